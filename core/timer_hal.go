package core

// TimerSnapshot holds a copy of every register a TimerDriver touches.
// Drivers decide the meaning of each slot; the recorder only stores it.
type TimerSnapshot struct {
	Regs [10]uint16
}

// TimerDriver is a periodic hardware timer that can be programmed from a
// solved TimerConfig.
type TimerDriver interface {
	// SourceHz is the timer input clock.
	SourceHz() uint32
	// Divisors lists the supported prescaler values.
	Divisors() []uint32
	// MaxCompare is the largest compare value the register can hold.
	MaxCompare() uint32

	// Save copies the current register state.
	Save() TimerSnapshot
	// Restore writes a previously saved register state back.
	Restore(s TimerSnapshot)
	// Program sets clear-on-compare mode with the given divisor and compare
	// value, zeroes the counter and clears pending flags.
	Program(divisor, compare uint32)
}
