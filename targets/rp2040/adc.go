//go:build rp2040

package main

import (
	"adcrec/core"
	"device/rp"
	"machine"
	"runtime/interrupt"
)

// The RP2040 ADC runs from the 48 MHz USB PLL and needs 96 cycles per
// conversion.
const (
	adcClockHz          = 48000000
	adcCyclesPerConvert = 96

	// adcTempSensor is the internal temperature sensor input.
	adcTempSensor = 4
)

// RPAdcDriver implements core.ConverterDriver on the RP2040 SAR ADC.
//
// In timer-compare mode the PIO pacer pulses triggerPin once per period and
// the pin's edge interrupt starts one conversion. Results land in the ADC
// FIFO, whose interrupt calls onResult.
type RPAdcDriver struct {
	pacer      *PIOPacer
	triggerPin machine.Pin
	onResult   func()

	src        core.TriggerSource
	leftAdjust bool
	armed      bool
	result     uint16

	irq interrupt.Interrupt
}

var adc *RPAdcDriver

// NewRPAdcDriver returns the converter driver. Only one instance exists
// since the interrupt handlers are global.
func NewRPAdcDriver(pacer *PIOPacer, triggerPin machine.Pin) *RPAdcDriver {
	adc = &RPAdcDriver{
		pacer:      pacer,
		triggerPin: triggerPin,
	}
	adc.irq = interrupt.New(rp.IRQ_ADC_IRQ_FIFO, handleADCFifo)
	adc.irq.SetPriority(0x40)

	// the pacer owns the pin; the edge detector still sees it
	triggerPin.SetInterrupt(machine.PinRising, func(machine.Pin) {
		if adc.armed && adc.src == core.TriggerTimerCompare {
			rp.ADC.CS.SetBits(rp.ADC_CS_START_ONCE)
		}
	})
	return adc
}

// SetResultHandler installs the per-conversion callback.
func (d *RPAdcDriver) SetResultHandler(h func()) {
	d.onResult = h
}

func handleADCFifo(interrupt.Interrupt) {
	for rp.ADC.FCS.Get()&rp.ADC_FCS_EMPTY == 0 {
		adc.result = uint16(rp.ADC.FIFO.Get() & 0xFFF)
		if adc.onResult != nil {
			core.RunInterrupt(adc.onResult)
		}
	}
}

func (d *RPAdcDriver) PowerOn() {
	machine.InitADC()
	rp.ADC.CS.SetBits(rp.ADC_CS_EN)
	for !rp.ADC.CS.HasBits(rp.ADC_CS_READY) {
	}
	// FIFO with a one-sample threshold drives the interrupt
	rp.ADC.FCS.Set(rp.ADC_FCS_EN | 1<<rp.ADC_FCS_THRESH_Pos | rp.ADC_FCS_ERR | rp.ADC_FCS_OVER | rp.ADC_FCS_UNDER)
}

func (d *RPAdcDriver) PowerOff() {
	rp.ADC.CS.ClearBits(rp.ADC_CS_START_MANY)
	rp.ADC.FCS.ClearBits(rp.ADC_FCS_EN)
	rp.ADC.CS.ClearBits(rp.ADC_CS_EN)
}

func (d *RPAdcDriver) EnableInterrupt() {
	rp.ADC.INTE.SetBits(rp.ADC_INTE_FIFO)
	d.irq.Enable()
}

func (d *RPAdcDriver) DisableInterrupt() {
	rp.ADC.INTE.ClearBits(rp.ADC_INTE_FIFO)
	d.irq.Disable()
}

func (d *RPAdcDriver) EnableAutoTrigger() {
	d.armed = true
	if d.src == core.TriggerFreeRunning {
		rp.ADC.CS.SetBits(rp.ADC_CS_START_MANY)
	}
}

func (d *RPAdcDriver) DisableAutoTrigger() {
	d.armed = false
	rp.ADC.CS.ClearBits(rp.ADC_CS_START_MANY)
}

func (d *RPAdcDriver) SetTriggerSource(src core.TriggerSource) {
	d.src = src
}

// Timing reports a fixed 48 MHz clock. The divisor below only paces
// free-running mode, so a single divisor of one is offered to the solver.
func (d *RPAdcDriver) Timing() core.ConverterTiming {
	return core.ConverterTiming{
		ClockHz:             adcClockHz,
		Divisors:            []uint32{1},
		HalfCyclesPerSample: 2 * adcCyclesPerConvert,
		Bits:                12,
	}
}

func (d *RPAdcDriver) SetDivisor(divisor uint32) error {
	if divisor != 1 {
		return core.ErrUnsupportedDivisor
	}
	// DIV=0 converts back to back
	rp.ADC.DIV.Set(0)
	return nil
}

func (d *RPAdcDriver) SetLeftAdjust(on bool) {
	d.leftAdjust = on
}

// SelectChannel accepts ADC0-ADC3 and the temperature sensor.
func (d *RPAdcDriver) SelectChannel(sel core.MuxSelector) bool {
	if sel.High() || sel > adcTempSensor {
		return false
	}
	if sel == adcTempSensor {
		rp.ADC.CS.SetBits(rp.ADC_CS_TS_EN)
	}
	rp.ADC.CS.ReplaceBits(uint32(sel)<<rp.ADC_CS_AINSEL_Pos, rp.ADC_CS_AINSEL_Msk, 0)
	return true
}

func (d *RPAdcDriver) ReadHigh() uint8 {
	if d.leftAdjust {
		return uint8(d.result >> 4)
	}
	return uint8(d.result >> 8)
}

func (d *RPAdcDriver) ReadRaw() uint16 {
	return d.result
}

// AckTrigger hands the pacer its next period.
func (d *RPAdcDriver) AckTrigger() {
	if d.src == core.TriggerTimerCompare {
		d.pacer.Refill()
	}
}
