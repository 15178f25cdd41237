package mcu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adcrec/protocol"
)

var (
	ErrSequenceGap = errors.New("window sequence gap")
	ErrOffsetGap   = errors.New("chunk offset gap")
)

// SampleWriter receives the reassembled sample bytes of each channel.
type SampleWriter interface {
	WriteSamples(ch int, data []byte) error
}

// Assembler checks recording_data chunks for continuity and forwards them
// to a SampleWriter. Windows carry a global sequence number starting at
// zero and arrive whole, one channel after another.
type Assembler struct {
	w        SampleWriter
	channels int

	nextSeq uint32
	started bool // a window is in progress
	curSeq  uint32
	curCh   uint8
	offset  uint32

	windows uint32
	bytes   []int
}

// NewAssembler forwards chunks for channels 0..channels-1 to w.
func NewAssembler(w SampleWriter, channels int) *Assembler {
	return &Assembler{w: w, channels: channels, bytes: make([]int, channels)}
}

// Add accepts one chunk.
func (a *Assembler) Add(ch uint8, seq, offset uint32, data []byte) error {
	if int(ch) >= a.channels {
		return fmt.Errorf("chunk for channel %d of %d", ch, a.channels)
	}
	switch {
	case offset == 0:
		if seq != a.nextSeq {
			return fmt.Errorf("%w: expected window %d, got %d", ErrSequenceGap, a.nextSeq, seq)
		}
		a.started = true
		a.curSeq, a.curCh = seq, ch
		a.nextSeq = seq + 1
		a.windows++
	case !a.started || seq != a.curSeq || ch != a.curCh:
		return fmt.Errorf("%w: window %d ch %d continued as window %d ch %d", ErrSequenceGap, a.curSeq, a.curCh, seq, ch)
	case offset != a.offset:
		return fmt.Errorf("%w: window %d expected offset %d, got %d", ErrOffsetGap, seq, a.offset, offset)
	}
	a.offset = offset + uint32(len(data))

	if err := a.w.WriteSamples(int(ch), data); err != nil {
		return err
	}
	a.bytes[ch] += len(data)
	return nil
}

// Windows returns the number of windows started.
func (a *Assembler) Windows() uint32 {
	return a.windows
}

// Bytes returns the bytes received per channel.
func (a *Assembler) Bytes() []int {
	return a.bytes
}

// Result summarises a recording session.
type Result struct {
	Collected     uint32        // samples the device stored, all channels
	Duration      time.Duration // start to stop
	Windows       uint32        // windows the device reported sending
	Bytes         []int         // bytes received per channel
	EffectiveRate float64       // collected samples per channel per second
}

// Record runs one session: start, wait for duration or ctx, stop, then
// collect the remaining windows into w. An asynchronous recording_error
// aborts the session.
func (m *MCU) Record(ctx context.Context, s Session, duration time.Duration, w SampleWriter) (Result, error) {
	if m.ident == nil {
		if _, err := m.Identify(ctx); err != nil {
			return Result{}, err
		}
	}
	asm := NewAssembler(w, m.ident.Channels)

	m.mu.Lock()
	m.onData = asm.Add
	m.dataErr = nil
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.onData = nil
		m.mu.Unlock()
	}()
	select {
	case <-m.done:
	default:
	}

	status, err := m.Start(ctx, s)
	if err != nil {
		return Result{}, err
	}
	began := time.Now()
	m.log.Printf("recording started (%s), %d Hz, %d-bit", status.StateName(), s.SampleRate, s.Resolution)

	timer := time.NewTimer(duration)
	defer timer.Stop()

	var abort error
wait:
	for {
		select {
		case <-timer.C:
			break wait
		case <-ctx.Done():
			m.log.Printf("recording interrupted: %v", ctx.Err())
			break wait
		case resp := <-m.replies:
			if resp.ID == protocol.MsgRecordingError {
				abort = replyError(resp)
				break wait
			}
			m.log.Printf("ignoring %s during recording", protocol.MessageName(resp.ID))
		}
	}

	// stop must go out even when ctx was cancelled
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	collected, err := m.Stop(stopCtx)
	cancel()
	res := Result{Collected: collected, Duration: time.Since(began)}
	if err != nil {
		return res, errors.Join(abort, fmt.Errorf("stop: %w", err))
	}

	select {
	case res.Windows = <-m.done:
	case <-time.After(DrainTimeout):
		err = ErrNoDoneMessage
	}

	res.Bytes = asm.Bytes()
	if secs := res.Duration.Seconds(); secs > 0 && m.ident.Channels > 0 {
		res.EffectiveRate = float64(res.Collected) / float64(m.ident.Channels) / secs
	}

	m.mu.Lock()
	dataErr := m.dataErr
	m.mu.Unlock()
	if abort != nil {
		abort = fmt.Errorf("recording aborted: %w", abort)
	}
	return res, errors.Join(abort, dataErr, err)
}
