package core

import "time"

// Recorder runs a multi-channel acquisition session into a caller-owned
// buffer. The conversion interrupt fills one half of the buffer while the
// consumer drains the other through TakeReady and DrainRemainder.
type Recorder struct {
	adc      ConverterDriver
	clock    *HardwareClock
	channels []Channel
	buf      []byte

	frame  frame
	layout Layout
	warmup Timer

	drainSlot int
	drainCh   int

	trigger TimerConfig
	conv    TimerConfig
}

// NewRecorder binds a converter, a trigger clock, a channel list and a
// sample buffer. The buffer stays owned by the caller and is reused by every
// session.
func NewRecorder(adc ConverterDriver, clock *HardwareClock, channels []Channel, buf []byte) (*Recorder, error) {
	switch {
	case len(channels) == 0:
		return nil, ErrNoChannels
	case len(channels) > MaxChannels:
		return nil, ErrTooManyChannels
	case len(buf) < MinBufferPerChannel*len(channels):
		return nil, ErrBufferTooSmall
	}
	r := &Recorder{
		adc:      adc,
		clock:    clock,
		channels: channels,
		buf:      buf,
	}
	r.frame.adc = adc
	r.warmup.Handler = r.warmupDone
	return r, nil
}

// Start validates the configuration, programs the trigger timer and the
// converter, and begins sampling. A running session is stopped once the new
// configuration has been validated and solved; a rejected configuration
// leaves it running.
//
// sampleRate is per channel; the trigger runs at sampleRate times the channel
// count. Samples converted during warmup are discarded.
func (r *Recorder) Start(res Resolution, sampleRate uint32, windowSamples int, warmup time.Duration) error {
	layout, err := ComputeLayout(res, len(r.channels), windowSamples, len(r.buf))
	if err != nil {
		return err
	}
	for _, ch := range r.channels {
		if _, ok := ch.Selector(); !ok {
			return ErrInvalidChannel
		}
	}

	nch := uint32(len(r.channels))
	if sampleRate == 0 {
		return ErrZeroDivision
	}
	if sampleRate > ^uint32(0)/nch {
		return ErrImpossibleClock
	}
	trigger, err := r.clock.Configure(sampleRate*nch, BiasHigh)
	if err != nil {
		return err
	}
	if err := r.clock.Check(trigger); err != nil {
		return err
	}

	conv, err := r.converterClock(sampleRate*nch, nch > 1)
	if err != nil {
		return err
	}
	if warmup > MaxTimerDelay {
		return ErrWarmupRange
	}

	if r.Active() {
		r.Stop()
	}

	state := disableInterrupts()
	r.frame.reset(r.adc, res, layout, r.channels, r.buf)
	restoreInterrupts(state)
	r.layout = layout
	r.drainSlot = 0
	r.drainCh = 0

	r.adc.PowerOn()
	r.adc.SetTriggerSource(TriggerTimerCompare)
	if err := r.adc.SetDivisor(conv.Divisor); err != nil {
		r.adc.PowerOff()
		return err
	}
	r.adc.SetLeftAdjust(res == Resolution8)
	sel, _ := r.channels[0].Selector()
	if !r.adc.SelectChannel(sel) {
		r.adc.PowerOff()
		return ErrInvalidChannel
	}
	if err := r.clock.Activate(trigger); err != nil {
		r.adc.PowerOff()
		return err
	}
	r.trigger = trigger
	r.conv = conv

	state = disableInterrupts()
	r.frame.ingest = warmup <= 0
	r.frame.active = true
	RecordEvent(EvtStart, uint8(nch), sampleRate, uint32(windowSamples))
	restoreInterrupts(state)

	if warmup > 0 {
		r.warmup.WakeTime = GetTime() + TimerFromDuration(warmup)
		ScheduleTimer(&r.warmup)
	}

	r.adc.EnableAutoTrigger()
	r.adc.EnableInterrupt()
	return nil
}

// converterClock sizes the converter prescaler so one conversion fits in a
// trigger period. Multi-channel sessions run it twice as fast so the channel
// switch settles.
func (r *Recorder) converterClock(triggerRate uint32, multi bool) (TimerConfig, error) {
	timing := r.adc.Timing()
	want := uint64(triggerRate) * uint64(timing.HalfCyclesPerSample) / 2
	if multi {
		want *= 2
	}
	if want == 0 {
		return TimerConfig{}, ErrZeroDivision
	}
	if want > uint64(timing.ClockHz) {
		return TimerConfig{}, ErrImpossibleClock
	}
	return Solve(timing.ClockHz, uint32(want), timing.Divisors, 1, BiasHigh, 0)
}

// warmupDone runs from the scheduler with interrupts already masked.
func (r *Recorder) warmupDone(t *Timer) uint8 {
	r.frame.ingest = true
	return SF_DONE
}

// Stop halts sampling, hands the trigger timer back and powers the converter
// down. It returns the number of samples stored during the session. Stopping
// an idle recorder returns the previous session's count.
func (r *Recorder) Stop() uint32 {
	r.adc.DisableAutoTrigger()
	r.adc.DisableInterrupt()
	r.clock.Deactivate()
	CancelTimer(&r.warmup)

	state := disableInterrupts()
	wasActive := r.frame.active
	r.frame.active = false
	collected := r.frame.collected
	if wasActive {
		RecordEvent(EvtStop, 0, collected, r.frame.dropped)
	}
	restoreInterrupts(state)

	r.adc.PowerOff()
	return collected
}

// Collected returns the number of samples stored so far.
func (r *Recorder) Collected() uint32 {
	state := disableInterrupts()
	n := r.frame.collected
	restoreInterrupts(state)
	return n
}

// Dropped returns the number of conversions discarded because both slots
// were waiting for the consumer.
func (r *Recorder) Dropped() uint32 {
	state := disableInterrupts()
	n := r.frame.dropped
	restoreInterrupts(state)
	return n
}

// Active reports whether a session is running.
func (r *Recorder) Active() bool {
	state := disableInterrupts()
	a := r.frame.active
	restoreInterrupts(state)
	return a
}

// Errored reports whether channel switching failed. The flag clears on the
// next Start.
func (r *Recorder) Errored() bool {
	state := disableInterrupts()
	e := r.frame.chErr
	restoreInterrupts(state)
	return e
}

// WarmingUp reports whether samples are still being discarded.
func (r *Recorder) WarmingUp() bool {
	state := disableInterrupts()
	w := r.frame.active && !r.frame.ingest
	restoreInterrupts(state)
	return w
}

// OnConversion is the conversion-complete interrupt handler.
func (r *Recorder) OnConversion() {
	r.frame.OnConversion()
}

// Producer returns the interrupt-side handler for the converter's
// conversion-complete interrupt.
func (r *Recorder) Producer() Producer {
	return &r.frame
}

// Channels returns the configured channel count.
func (r *Recorder) Channels() int {
	return len(r.channels)
}

// Layout returns the buffer layout of the last successful Start.
func (r *Recorder) Layout() Layout {
	return r.layout
}

// TriggerConfig returns the trigger timer configuration of the last Start.
func (r *Recorder) TriggerConfig() TimerConfig {
	return r.trigger
}

// ConverterConfig returns the converter prescaler solution of the last Start.
func (r *Recorder) ConverterConfig() TimerConfig {
	return r.conv
}
