//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// irqMu stands in for the CPU interrupt mask on regular Go, so host tests can
// run the conversion handler from another goroutine.
var irqMu sync.Mutex

// disableInterrupts masks the simulated interrupt source.
// Not reentrant: callers must not nest critical sections.
func disableInterrupts() State {
	irqMu.Lock()
	return 1
}

// restoreInterrupts unmasks the simulated interrupt source.
func restoreInterrupts(state State) {
	irqMu.Unlock()
}

// RunInterrupt invokes h the way the hardware invokes an interrupt handler:
// with the critical section held.
func RunInterrupt(h func()) {
	irqMu.Lock()
	h()
	irqMu.Unlock()
}
