//go:build atmega2560

package main

import (
	"adcrec/core"
	"device/avr"
	"machine"
)

// timer1Divisors are the Timer1 clock-select prescalers.
var timer1Divisors = []uint32{1, 8, 64, 256, 1024}

// Snapshot slots.
const (
	snapTCCR1A = iota
	snapTCCR1B
	snapTCCR1C
	snapOCR1A
	snapOCR1B
	snapICR1
	snapTIMSK1
)

// Timer1 is the 16-bit Timer1 in clear-on-compare mode. OCR1A sets the
// period and OCR1B matches at the same count, so compare B fires once per
// period and can auto-trigger the ADC.
type Timer1 struct{}

func (Timer1) SourceHz() uint32 {
	return machine.CPUFrequency()
}

func (Timer1) Divisors() []uint32 {
	return timer1Divisors
}

// MaxCompare is one more than the largest OCR1A value.
func (Timer1) MaxCompare() uint32 {
	return 0x10000
}

func (Timer1) Save() core.TimerSnapshot {
	var s core.TimerSnapshot
	s.Regs[snapTCCR1A] = uint16(avr.TCCR1A.Get())
	s.Regs[snapTCCR1B] = uint16(avr.TCCR1B.Get())
	s.Regs[snapTCCR1C] = uint16(avr.TCCR1C.Get())
	s.Regs[snapOCR1A] = read16(avr.OCR1AL.Get, avr.OCR1AH.Get)
	s.Regs[snapOCR1B] = read16(avr.OCR1BL.Get, avr.OCR1BH.Get)
	s.Regs[snapICR1] = read16(avr.ICR1L.Get, avr.ICR1H.Get)
	s.Regs[snapTIMSK1] = uint16(avr.TIMSK1.Get())
	return s
}

// Restore stops the clock, writes the saved registers back and restarts
// with the saved clock select.
func (Timer1) Restore(s core.TimerSnapshot) {
	avr.TCCR1B.Set(0)
	avr.TCCR1A.Set(uint8(s.Regs[snapTCCR1A]))
	avr.TCCR1C.Set(uint8(s.Regs[snapTCCR1C]))
	write16(avr.OCR1AH.Set, avr.OCR1AL.Set, s.Regs[snapOCR1A])
	write16(avr.OCR1BH.Set, avr.OCR1BL.Set, s.Regs[snapOCR1B])
	write16(avr.ICR1H.Set, avr.ICR1L.Set, s.Regs[snapICR1])
	avr.TIMSK1.Set(uint8(s.Regs[snapTIMSK1]))
	avr.TCCR1B.Set(uint8(s.Regs[snapTCCR1B]))
}

func (Timer1) Program(divisor, compare uint32) {
	top := uint16(compare - 1)

	avr.TCCR1B.Set(0)
	avr.TCCR1A.Set(0)
	avr.TIMSK1.Set(0)
	write16(avr.OCR1AH.Set, avr.OCR1AL.Set, top)
	write16(avr.OCR1BH.Set, avr.OCR1BL.Set, top)
	write16(avr.TCNT1H.Set, avr.TCNT1L.Set, 0)
	// writing ones clears pending flags
	avr.TIFR1.Set(0xFF)
	avr.TCCR1B.Set(avr.TCCR1B_WGM12 | clockSelect(divisor))
}

// clockSelect maps a prescaler to the CS12:0 bits.
func clockSelect(divisor uint32) uint8 {
	switch divisor {
	case 1:
		return 1
	case 8:
		return 2
	case 64:
		return 3
	case 256:
		return 4
	case 1024:
		return 5
	}
	return 0
}

// 16-bit registers go through the shared TEMP latch: low byte first on
// read, high byte first on write.
func read16(lo, hi func() uint8) uint16 {
	l := lo()
	return uint16(hi())<<8 | uint16(l)
}

func write16(hi, lo func(uint8), v uint16) {
	hi(uint8(v >> 8))
	lo(uint8(v))
}
