package core

import "adcrec/protocol"

// fakeADC records driver calls and returns a per-channel sample sequence:
// the high nibble is the selected mux input, the low nibble counts the
// samples taken from it.
type fakeADC struct {
	powered     bool
	irq         bool
	autoTrigger bool
	source      TriggerSource
	divisor     uint32
	leftAdjust  bool
	selected    MuxSelector
	refuse      map[MuxSelector]bool
	counts      [MaxChannels]int
	acks        int
	bits        uint8
	calls       []string
}

func newFakeADC() *fakeADC {
	return &fakeADC{refuse: make(map[MuxSelector]bool)}
}

func (a *fakeADC) PowerOn()           { a.powered = true; a.calls = append(a.calls, "power_on") }
func (a *fakeADC) PowerOff()          { a.powered = false; a.calls = append(a.calls, "power_off") }
func (a *fakeADC) EnableInterrupt()   { a.irq = true; a.calls = append(a.calls, "irq_on") }
func (a *fakeADC) DisableInterrupt()  { a.irq = false; a.calls = append(a.calls, "irq_off") }
func (a *fakeADC) EnableAutoTrigger() { a.autoTrigger = true; a.calls = append(a.calls, "trigger_on") }
func (a *fakeADC) DisableAutoTrigger() {
	a.autoTrigger = false
	a.calls = append(a.calls, "trigger_off")
}
func (a *fakeADC) SetTriggerSource(src TriggerSource) { a.source = src }
func (a *fakeADC) SetLeftAdjust(on bool)              { a.leftAdjust = on }
func (a *fakeADC) AckTrigger()                        { a.acks++ }

func (a *fakeADC) Timing() ConverterTiming {
	return ConverterTiming{
		ClockHz:             16000000,
		Divisors:            []uint32{2, 4, 8, 16, 32, 64, 128},
		HalfCyclesPerSample: 27,
		Bits:                a.bits,
	}
}

func (a *fakeADC) SetDivisor(divisor uint32) error {
	for _, d := range a.Timing().Divisors {
		if d == divisor {
			a.divisor = divisor
			return nil
		}
	}
	return ErrUnsupportedDivisor
}

func (a *fakeADC) SelectChannel(sel MuxSelector) bool {
	if a.refuse[sel] {
		return false
	}
	a.selected = sel
	return true
}

func (a *fakeADC) next() int {
	n := a.counts[a.selected]
	a.counts[a.selected]++
	return n
}

func (a *fakeADC) ReadHigh() uint8 {
	return sampleByte(a.selected, a.next())
}

// ReadRaw returns 10-bit readings: selector in bits 6-9, count in bits 0-5.
func (a *fakeADC) ReadRaw() uint16 {
	return uint16(a.selected)<<6 | uint16(a.next()&0x3F)
}

// sampleByte is the value the i-th 8-bit sample of sel carries.
func sampleByte(sel MuxSelector, i int) uint8 {
	return uint8(sel)<<4 | uint8(i&0x0F)
}

// fakeTimer is a register file with a 16 MHz source and the AVR 16-bit
// timer prescalers.
type fakeTimer struct {
	regs     [10]uint16
	saves    int
	restores int
	programs int
}

func (t *fakeTimer) SourceHz() uint32   { return 16000000 }
func (t *fakeTimer) Divisors() []uint32 { return []uint32{1, 8, 64, 256, 1024} }
func (t *fakeTimer) MaxCompare() uint32 { return 65535 }

func (t *fakeTimer) Save() TimerSnapshot {
	t.saves++
	return TimerSnapshot{Regs: t.regs}
}

func (t *fakeTimer) Restore(s TimerSnapshot) {
	t.restores++
	t.regs = s.Regs
}

func (t *fakeTimer) Program(divisor, compare uint32) {
	t.programs++
	t.regs[0] = uint16(divisor)
	t.regs[1] = uint16(compare)
}

// fakeSender captures responses the way the device transport would frame
// them.
type fakeSender struct {
	room     int
	messages []sentMessage
}

type sentMessage struct {
	id   uint16
	args []byte
}

func (s *fakeSender) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput(protocol.OutputBufferSize)
	if args != nil {
		args(out)
	}
	msg := sentMessage{id: cmdID, args: append([]byte(nil), out.Result()...)}
	s.messages = append(s.messages, msg)
}

func (s *fakeSender) Room() int {
	return s.room
}

func (s *fakeSender) byID(id uint16) []sentMessage {
	var out []sentMessage
	for _, m := range s.messages {
		if m.id == id {
			out = append(out, m)
		}
	}
	return out
}

// collectSink gathers per-channel streams. A positive limit caps the bytes
// accepted per call.
type collectSink struct {
	streams [MaxChannels][]byte
	limit   int
	busy    bool
	seqs    []uint32
}

func (c *collectSink) WriteWindow(seq uint32, w Window, offset int) int {
	if c.busy {
		return 0
	}
	chunk := w.Data[offset:]
	if c.limit > 0 && len(chunk) > c.limit {
		chunk = chunk[:c.limit]
	}
	if offset == 0 {
		c.seqs = append(c.seqs, seq)
	}
	c.streams[w.Channel] = append(c.streams[w.Channel], chunk...)
	return len(chunk)
}
