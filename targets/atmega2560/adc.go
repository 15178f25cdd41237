//go:build atmega2560

package main

import (
	"adcrec/core"
	"device/avr"
	"runtime/interrupt"
)

// ADC clock tree: the prescaler divides the CPU clock and one conversion
// takes 13.5 ADC clocks in auto-trigger mode.
const (
	adcClockHz        = 16000000
	adcHalfCycles     = 27
	adcBits           = 10
	adtsFreeRunning   = 0
	adtsExternalINT0  = 2
	adtsTimer1CompB   = 5
	adcsrbTriggerMask = 0x07
)

var adcDivisors = []uint32{2, 4, 8, 16, 32, 64, 128}

// AVRAdcDriver implements core.ConverterDriver on the ATmega2560 ADC.
type AVRAdcDriver struct {
	onResult func()
}

var adc *AVRAdcDriver

// NewAVRAdcDriver returns the single ADC driver.
func NewAVRAdcDriver() *AVRAdcDriver {
	adc = &AVRAdcDriver{}
	interrupt.New(avr.IRQ_ADC, handleADC)
	return adc
}

// SetResultHandler installs the per-conversion callback.
func (d *AVRAdcDriver) SetResultHandler(h func()) {
	d.onResult = h
}

func handleADC(interrupt.Interrupt) {
	if adc.onResult != nil {
		core.RunInterrupt(adc.onResult)
	}
}

func (d *AVRAdcDriver) PowerOn() {
	avr.PRR0.ClearBits(avr.PRR0_PRADC)
	// AVcc reference
	avr.ADMUX.Set(avr.ADMUX_REFS0)
	avr.ADCSRA.SetBits(avr.ADCSRA_ADEN)
}

func (d *AVRAdcDriver) PowerOff() {
	avr.ADCSRA.ClearBits(avr.ADCSRA_ADEN | avr.ADCSRA_ADATE | avr.ADCSRA_ADIE)
	avr.PRR0.SetBits(avr.PRR0_PRADC)
}

func (d *AVRAdcDriver) EnableInterrupt() {
	avr.ADCSRA.SetBits(avr.ADCSRA_ADIE)
}

func (d *AVRAdcDriver) DisableInterrupt() {
	avr.ADCSRA.ClearBits(avr.ADCSRA_ADIE)
}

func (d *AVRAdcDriver) EnableAutoTrigger() {
	avr.ADCSRA.SetBits(avr.ADCSRA_ADATE)
}

func (d *AVRAdcDriver) DisableAutoTrigger() {
	avr.ADCSRA.ClearBits(avr.ADCSRA_ADATE)
}

func (d *AVRAdcDriver) SetTriggerSource(src core.TriggerSource) {
	var adts uint8
	switch src {
	case core.TriggerTimerCompare:
		adts = adtsTimer1CompB
	case core.TriggerExternal:
		adts = adtsExternalINT0
	default:
		adts = adtsFreeRunning
	}
	avr.ADCSRB.Set(avr.ADCSRB.Get()&^adcsrbTriggerMask | adts)
}

func (d *AVRAdcDriver) Timing() core.ConverterTiming {
	return core.ConverterTiming{
		ClockHz:             adcClockHz,
		Divisors:            adcDivisors,
		HalfCyclesPerSample: adcHalfCycles,
		Bits:                adcBits,
	}
}

// SetDivisor programs ADPS2:0, which hold log2 of the prescaler.
func (d *AVRAdcDriver) SetDivisor(divisor uint32) error {
	for i, v := range adcDivisors {
		if v == divisor {
			avr.ADCSRA.Set(avr.ADCSRA.Get()&^0x07 | uint8(i+1))
			return nil
		}
	}
	return core.ErrUnsupportedDivisor
}

func (d *AVRAdcDriver) SetLeftAdjust(on bool) {
	if on {
		avr.ADMUX.SetBits(avr.ADMUX_ADLAR)
	} else {
		avr.ADMUX.ClearBits(avr.ADMUX_ADLAR)
	}
}

// SelectChannel routes ADC0-ADC15. The high group needs MUX5 in ADCSRB;
// the digital input buffer of the pin is switched off.
func (d *AVRAdcDriver) SelectChannel(sel core.MuxSelector) bool {
	if uint8(sel) >= core.MaxChannels {
		return false
	}
	avr.ADMUX.Set(avr.ADMUX.Get()&^0x1F | sel.Low())
	if sel.High() {
		avr.ADCSRB.SetBits(avr.ADCSRB_MUX5)
		avr.DIDR2.SetBits(1 << sel.Low())
	} else {
		avr.ADCSRB.ClearBits(avr.ADCSRB_MUX5)
		avr.DIDR0.SetBits(1 << sel.Low())
	}
	return true
}

func (d *AVRAdcDriver) ReadHigh() uint8 {
	return avr.ADCH.Get()
}

// ReadRaw reads ADCL before ADCH, which unlocks the result registers.
func (d *AVRAdcDriver) ReadRaw() uint16 {
	lo := avr.ADCL.Get()
	hi := avr.ADCH.Get()
	return uint16(hi)<<8 | uint16(lo)
}

// AckTrigger clears OCF1B. Timer1 raises no interrupt, so the flag stays set
// and blocks the next auto-trigger edge until cleared.
func (d *AVRAdcDriver) AckTrigger() {
	avr.TIFR1.Set(avr.TIFR1_OCF1B)
}
