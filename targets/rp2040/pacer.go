//go:build rp2040

package main

import (
	"adcrec/core"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// Pacer program. Each period pulls a count from the TX FIFO, spins on it
// and pulses the trigger pin:
//
//	pull block        ; period word
//	out x, 32
//	jmp x--, 2        ; x+1 cycles
//	set pins, 1 [7]   ; 8 cycle pulse
//	set pins, 0
//
// One period is the count plus pacerOverhead cycles. The CPU keeps the FIFO
// topped up from the conversion interrupt, so timing stays on the PIO clock
// as long as the FIFO never runs dry.
func buildPacerProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),                   // 0: pull block
		asm.Out(rp2pio.OutDestX, 32).Encode(),            // 1: out x, 32
		asm.Jmp(2, rp2pio.JmpXNZeroDec).Encode(),         // 2: jmp x--, 2
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // 3: set pins, 1 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 4: set pins, 0
	}
}

const (
	pacerOrigin = 0
	// pacerOverhead is pull, out, the final jmp and the two sets.
	pacerOverhead = 12
	pacerFIFO     = 4
)

// pacerDivisors are the integer clock dividers offered to the solver.
var pacerDivisors = []uint32{1, 4, 16, 64, 256, 1024, 4096, 16384}

// Snapshot slots.
const (
	snapEnabled = iota
	snapDivisor
	snapCountLo
	snapCountHi
)

// PIOPacer is a core.TimerDriver built on one PIO state machine. It replaces
// a compare-match timer: the pulse on its pin is the conversion trigger.
type PIOPacer struct {
	pio    *rp2pio.PIO
	sm     rp2pio.StateMachine
	pin    machine.Pin
	offset uint8
	loaded bool

	enabled bool
	divisor uint32
	count   uint32 // period minus pacerOverhead
}

// NewPIOPacer claims state machine smNum of PIO pioNum for pin.
func NewPIOPacer(pioNum, smNum uint8, pin machine.Pin) *PIOPacer {
	pioHW := rp2pio.PIO0
	if pioNum != 0 {
		pioHW = rp2pio.PIO1
	}
	return &PIOPacer{
		pio: pioHW,
		sm:  pioHW.StateMachine(smNum),
		pin: pin,
	}
}

// Init loads the program and leaves the state machine stopped.
func (p *PIOPacer) Init() error {
	p.sm.TryClaim()

	program := buildPacerProgram()
	offset, err := p.pio.AddProgram(program, pacerOrigin)
	if err != nil {
		return err
	}
	p.offset = offset
	p.loaded = true

	p.pin.Configure(machine.PinConfig{Mode: p.pio.PinMode()})
	p.configure(1)
	p.sm.SetPindirsConsecutive(p.pin, 1, true)
	p.sm.SetPinsConsecutive(p.pin, 1, false)
	return nil
}

func (p *PIOPacer) configure(divisor uint32) {
	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(p.pin, 1)
	// shift right, no autopull, 32-bit words
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(p.offset+uint8(len(buildPacerProgram()))-1, p.offset)
	cfg.SetClkDivIntFrac(uint16(divisor), 0)
	p.sm.Init(p.offset, cfg)
}

func (p *PIOPacer) SourceHz() uint32 {
	return machine.CPUFrequency()
}

func (p *PIOPacer) Divisors() []uint32 {
	return pacerDivisors
}

// MaxCompare is bounded by the 32-bit X register.
func (p *PIOPacer) MaxCompare() uint32 {
	return 0xFFFFFFFF - pacerOverhead
}

func (p *PIOPacer) Save() core.TimerSnapshot {
	var s core.TimerSnapshot
	if p.enabled {
		s.Regs[snapEnabled] = 1
	}
	s.Regs[snapDivisor] = uint16(p.divisor)
	s.Regs[snapCountLo] = uint16(p.count)
	s.Regs[snapCountHi] = uint16(p.count >> 16)
	return s
}

func (p *PIOPacer) Restore(s core.TimerSnapshot) {
	p.stop()
	p.divisor = uint32(s.Regs[snapDivisor])
	p.count = uint32(s.Regs[snapCountLo]) | uint32(s.Regs[snapCountHi])<<16
	if s.Regs[snapEnabled] != 0 && p.divisor != 0 {
		p.start()
	}
}

// Program restarts the state machine with a period of compare cycles of
// the divided clock.
func (p *PIOPacer) Program(divisor, compare uint32) {
	p.stop()
	if compare <= pacerOverhead {
		compare = pacerOverhead + 1
	}
	p.divisor = divisor
	p.count = compare - pacerOverhead
	p.start()
}

func (p *PIOPacer) start() {
	if !p.loaded {
		return
	}
	p.configure(p.divisor)
	for i := 0; i < pacerFIFO; i++ {
		p.sm.TxPut(p.count)
	}
	p.sm.SetEnabled(true)
	p.enabled = true
}

func (p *PIOPacer) stop() {
	if !p.loaded {
		return
	}
	p.sm.SetEnabled(false)
	p.sm.ClearFIFOs()
	p.sm.Restart()
	p.sm.SetPinsConsecutive(p.pin, 1, false)
	p.enabled = false
}

// Refill queues one more period. Called once per conversion.
func (p *PIOPacer) Refill() {
	if p.enabled && !p.sm.IsTxFIFOFull() {
		p.sm.TxPut(p.count)
	}
}
