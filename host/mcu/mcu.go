// Package mcu is the host-side client of the recorder firmware.
package mcu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"adcrec/core"
	"adcrec/host/serial"
	"adcrec/protocol"
)

var (
	ErrNotIdentified = errors.New("device has not been identified")
	ErrNoDoneMessage = errors.New("no recording_done after stop")
)

// replyQueue bounds replies buffered between calls.
const replyQueue = 64

// DrainTimeout is how long Record waits for the device to flush its
// buffered windows after stop.
var DrainTimeout = 5 * time.Second

// Identity is the device's identify_response.
type Identity struct {
	Version     string
	Channels    int
	BufferBytes int
}

// Status is a recording_status report.
type Status struct {
	State     uint8
	Collected uint32
}

// StateName returns the readable name of the reported state.
func (s Status) StateName() string {
	switch s.State {
	case protocol.StateIdle:
		return "idle"
	case protocol.StateWarmup:
		return "warmup"
	case protocol.StateActive:
		return "active"
	case protocol.StateErrored:
		return "errored"
	case protocol.StateDraining:
		return "draining"
	}
	return fmt.Sprintf("state(%d)", s.State)
}

// Solution is a clock_solution report.
type Solution struct {
	Divisor  uint32
	Compare  uint32
	Achieved uint32
	ErrorPPM uint32
}

// Session holds the start_recording arguments.
type Session struct {
	Resolution core.Resolution
	SampleRate uint32
	Window     int
	Warmup     time.Duration
}

// MCU is a connection to the recorder.
type MCU struct {
	transport *protocol.HostTransport
	log       *log.Logger

	replies chan protocol.Response
	done    chan uint32
	stop    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	onData  func(ch uint8, seq, offset uint32, data []byte) error
	dataErr error

	ident *Identity
}

// New starts a client on an already open port. logger may be nil.
func New(port io.ReadWriteCloser, logger *log.Logger) *MCU {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &MCU{
		transport: protocol.NewHostTransport(port),
		log:       logger,
		replies:   make(chan protocol.Response, replyQueue),
		done:      make(chan uint32, 1),
		stop:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.pump()
	return m
}

// Connect opens the serial port described by cfg.
func Connect(cfg *serial.Config, logger *log.Logger) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	// discard anything a previous session left in the OS buffer
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port: %w", err)
	}
	return New(port, logger), nil
}

// Close stops the client and closes the port.
func (m *MCU) Close() error {
	close(m.stop)
	m.wg.Wait()
	return m.transport.Close()
}

// BadFrames returns the number of corrupt frames seen.
func (m *MCU) BadFrames() uint32 {
	return m.transport.BadFrames()
}

// pump routes device messages: sample data to the active handler,
// recording_done to Record and everything else to the reply queue.
func (m *MCU) pump() {
	defer m.wg.Done()
	for {
		select {
		case resp := <-m.transport.Responses():
			m.route(resp)
		case <-m.stop:
			return
		}
	}
}

func (m *MCU) route(resp protocol.Response) {
	switch resp.ID {
	case protocol.MsgRecordingData:
		args := resp.Args
		ch, err1 := protocol.DecodeVLQUint(&args)
		seq, err2 := protocol.DecodeVLQUint(&args)
		offset, err3 := protocol.DecodeVLQUint(&args)
		data, err4 := protocol.DecodeVLQBytes(&args)
		if err := errors.Join(err1, err2, err3, err4); err != nil {
			m.setDataErr(fmt.Errorf("malformed recording_data: %w", err))
			return
		}
		m.mu.Lock()
		h := m.onData
		m.mu.Unlock()
		if h == nil {
			m.log.Printf("dropping recording_data ch=%d seq=%d outside a session", ch, seq)
			return
		}
		if err := h(uint8(ch), seq, offset, data); err != nil {
			m.setDataErr(err)
		}

	case protocol.MsgRecordingDone:
		args := resp.Args
		windows, _ := protocol.DecodeVLQUint(&args)
		select {
		case m.done <- windows:
		default:
		}

	default:
		select {
		case m.replies <- resp:
		default:
			m.log.Printf("reply queue full, dropping %s", protocol.MessageName(resp.ID))
		}
	}
}

func (m *MCU) setDataErr(err error) {
	m.mu.Lock()
	if m.dataErr == nil {
		m.dataErr = err
	}
	m.mu.Unlock()
}

func (m *MCU) drainReplies() {
	for {
		select {
		case resp := <-m.replies:
			m.log.Printf("discarding stale %s", protocol.MessageName(resp.ID))
		default:
			return
		}
	}
}

// replyError turns a recording_error into the matching core error.
func replyError(resp protocol.Response) error {
	args := resp.Args
	code, err := protocol.DecodeVLQUint(&args)
	if err != nil {
		return fmt.Errorf("malformed recording_error: %w", err)
	}
	return core.CodeError(uint8(code))
}

// call sends a command and waits for one of the wanted replies. A
// recording_error reply fails the call.
func (m *MCU) call(ctx context.Context, id uint16, args func(protocol.OutputBuffer), want ...uint16) (protocol.Response, error) {
	m.drainReplies()
	if err := m.transport.Send(ctx, id, args); err != nil {
		return protocol.Response{}, err
	}
	for {
		select {
		case resp := <-m.replies:
			if resp.ID == protocol.MsgRecordingError {
				return resp, fmt.Errorf("%s: %w", protocol.MessageName(id), replyError(resp))
			}
			for _, w := range want {
				if resp.ID == w {
					return resp, nil
				}
			}
			m.log.Printf("ignoring %s while waiting for %s", protocol.MessageName(resp.ID), protocol.MessageName(id))
		case <-ctx.Done():
			return protocol.Response{}, fmt.Errorf("waiting for reply to %s: %w", protocol.MessageName(id), ctx.Err())
		}
	}
}

// decodeUints decodes n VLQ integers.
func decodeUints(args []byte, n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := range out {
		v, err := protocol.DecodeVLQUint(&args)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Identify asks the device for its version and layout.
func (m *MCU) Identify(ctx context.Context) (Identity, error) {
	resp, err := m.call(ctx, protocol.MsgIdentify, nil, protocol.MsgIdentifyResponse)
	if err != nil {
		return Identity{}, err
	}
	args := resp.Args
	version, err := protocol.DecodeVLQString(&args)
	if err != nil {
		return Identity{}, fmt.Errorf("malformed identify_response: %w", err)
	}
	v, err := decodeUints(args, 2)
	if err != nil {
		return Identity{}, fmt.Errorf("malformed identify_response: %w", err)
	}
	id := Identity{Version: version, Channels: int(v[0]), BufferBytes: int(v[1])}
	m.ident = &id
	m.log.Printf("device %s: %d channels, %d byte buffer", id.Version, id.Channels, id.BufferBytes)
	return id, nil
}

func decodeStatus(resp protocol.Response) (Status, error) {
	v, err := decodeUints(resp.Args, 2)
	if err != nil {
		return Status{}, fmt.Errorf("malformed recording_status: %w", err)
	}
	return Status{State: uint8(v[0]), Collected: v[1]}, nil
}

// Start begins a session. Parameter errors come back as the core errors.
func (m *MCU) Start(ctx context.Context, s Session) (Status, error) {
	resp, err := m.call(ctx, protocol.MsgStartRecording, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(s.Resolution))
		protocol.EncodeVLQUint(out, s.SampleRate)
		protocol.EncodeVLQUint(out, uint32(s.Window))
		protocol.EncodeVLQUint(out, uint32(s.Warmup/time.Millisecond))
	}, protocol.MsgRecordingStatus)
	if err != nil {
		return Status{}, err
	}
	return decodeStatus(resp)
}

// Stop ends the session and returns the samples collected.
func (m *MCU) Stop(ctx context.Context) (uint32, error) {
	resp, err := m.call(ctx, protocol.MsgStopRecording, nil, protocol.MsgRecordingStopped)
	if err != nil {
		return 0, err
	}
	v, err := decodeUints(resp.Args, 1)
	if err != nil {
		return 0, fmt.Errorf("malformed recording_stopped: %w", err)
	}
	return v[0], nil
}

// Query reports the device's recording state.
func (m *MCU) Query(ctx context.Context) (Status, error) {
	resp, err := m.call(ctx, protocol.MsgQueryRecording, nil, protocol.MsgRecordingStatus)
	if err != nil {
		return Status{}, err
	}
	return decodeStatus(resp)
}

// SolveClock asks the device which timer setting it would use for desired.
func (m *MCU) SolveClock(ctx context.Context, desired uint32, bias core.Bias) (Solution, error) {
	resp, err := m.call(ctx, protocol.MsgSolveClock, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, desired)
		protocol.EncodeVLQUint(out, uint32(bias))
	}, protocol.MsgClockSolution)
	if err != nil {
		return Solution{}, err
	}
	v, err := decodeUints(resp.Args, 4)
	if err != nil {
		return Solution{}, fmt.Errorf("malformed clock_solution: %w", err)
	}
	return Solution{Divisor: v[0], Compare: v[1], Achieved: v[2], ErrorPPM: v[3]}, nil
}

// Events fetches the device event ring. The device sends one event per
// message with no terminator, so collection ends after quiet passes with
// nothing new.
func (m *MCU) Events(ctx context.Context, quiet time.Duration) ([]core.Event, error) {
	m.drainReplies()
	if err := m.transport.Send(ctx, protocol.MsgGetEvents, nil); err != nil {
		return nil, err
	}

	var events []core.Event
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case resp := <-m.replies:
			if resp.ID != protocol.MsgEvent {
				m.log.Printf("ignoring %s while collecting events", protocol.MessageName(resp.ID))
				continue
			}
			v, err := decodeUints(resp.Args, 5)
			if err != nil {
				return events, fmt.Errorf("malformed event: %w", err)
			}
			events = append(events, core.Event{
				EventType: uint8(v[0]),
				Arg:       uint8(v[1]),
				Clock:     v[2],
				Value1:    v[3],
				Value2:    v[4],
			})
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
		case <-timer.C:
			return events, nil
		case <-ctx.Done():
			return events, ctx.Err()
		}
	}
}
