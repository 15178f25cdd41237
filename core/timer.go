package core

import (
	"sync/atomic"
	"time"
)

// TimerFreq is the scheduler tick rate. Targets convert their own counters
// to it in SetTime.
const TimerFreq = 12000000

// MaxTimerTicks is the furthest a timer may be scheduled ahead. Wake times
// are compared modulo 2^32, so anything further would look overdue.
const MaxTimerTicks = 0x7FFFFFFF

// MaxTimerDelay is MaxTimerTicks as a duration, rounded down to whole
// microseconds.
const MaxTimerDelay = time.Duration(MaxTimerTicks/(TimerFreq/1000000)) * time.Microsecond

// systemTicks is written by the target main loop and read from the
// conversion interrupt.
var systemTicks atomic.Uint32

// GetTime returns the current system time in timer ticks.
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime sets the current system time. The counter wraps.
func SetTime(ticks uint32) {
	systemTicks.Store(ticks)
}

// timerBefore reports whether tick a comes before b on the wrapping clock.
func timerBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// TimerFromUS converts microseconds to timer ticks.
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds.
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerFromDuration converts a duration to timer ticks, saturating at
// MaxTimerTicks. Callers reject longer delays up front.
func TimerFromDuration(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ticks := uint64(d/time.Microsecond) * (TimerFreq / 1000000)
	if ticks > MaxTimerTicks {
		return MaxTimerTicks
	}
	return uint32(ticks)
}

// TimerInit drops every scheduled timer and latches the current time.
func TimerInit() {
	state := disableInterrupts()
	timerList = nil
	currentTime = GetTime()
	restoreInterrupts(state)
}

// ProcessTimers runs every timer due at the current time.
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
