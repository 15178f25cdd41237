package mcu

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"adcrec/core"
	"adcrec/protocol"
)

// pipePort joins the read end of one pipe with the write end of another.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

// emitFunc sends one device message immediately.
type emitFunc func(id uint16, args func(protocol.OutputBuffer))

// fakeDevice runs a device-side transport whose commands are answered by
// handler.
type fakeDevice struct {
	port *pipePort
	wg   sync.WaitGroup
}

func startDevice(t *testing.T, handler func(emit emitFunc, cmdID uint16, data *[]byte)) *MCU {
	t.Helper()
	hostR, devW := io.Pipe()
	devR, hostW := io.Pipe()
	dev := &fakeDevice{port: &pipePort{r: devR, w: devW}}

	dev.wg.Add(1)
	go func() {
		defer dev.wg.Done()
		dev.run(handler)
	}()

	m := New(&pipePort{r: hostR, w: hostW}, nil)
	t.Cleanup(func() {
		m.Close()
		dev.port.Close()
		dev.wg.Wait()
	})
	return m
}

func (d *fakeDevice) run(handler func(emit emitFunc, cmdID uint16, data *[]byte)) {
	input := protocol.NewFifoBuffer(256)
	output := protocol.NewScratchOutput(protocol.OutputBufferSize)
	flush := func() {
		if res := output.Result(); len(res) > 0 {
			d.port.Write(res)
			output.Reset()
		}
	}
	var tr *protocol.Transport
	emit := func(id uint16, args func(protocol.OutputBuffer)) {
		tr.SendCommand(id, args)
		flush()
	}
	tr = protocol.NewTransport(output, func(cmdID uint16, data *[]byte) error {
		handler(emit, cmdID, data)
		*data = nil
		return nil
	})
	tr.SetFlushCallback(flush)

	buf := make([]byte, 64)
	for {
		n, err := d.port.Read(buf)
		if err != nil {
			return
		}
		input.Write(buf[:n])
		in := protocol.NewSliceInputBuffer(input.Data())
		before := in.Available()
		tr.Receive(in)
		input.Pop(before - in.Available())
		flush()
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func sendStatus(emit emitFunc, state, collected uint32) {
	emit(protocol.MsgRecordingStatus, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, state)
		protocol.EncodeVLQUint(out, collected)
	})
}

func sendError(emit emitFunc, code uint8) {
	emit(protocol.MsgRecordingError, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(code))
	})
}

func sendIdentity(emit emitFunc, channels uint32) {
	emit(protocol.MsgIdentifyResponse, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQString(out, "0.3.0")
		protocol.EncodeVLQUint(out, channels)
		protocol.EncodeVLQUint(out, 2048)
	})
}

func sendData(emit emitFunc, ch uint8, seq, offset uint32, data []byte) {
	emit(protocol.MsgRecordingData, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(ch))
		protocol.EncodeVLQUint(out, seq)
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, data)
	})
}

func TestIdentify(t *testing.T) {
	m := startDevice(t, func(emit emitFunc, cmdID uint16, data *[]byte) {
		if cmdID == protocol.MsgIdentify {
			sendIdentity(emit, 3)
		}
	})

	id, err := m.Identify(testContext(t))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if id.Version != "0.3.0" || id.Channels != 3 || id.BufferBytes != 2048 {
		t.Errorf("Unexpected identity: %+v", id)
	}
}

func TestStartMapsDeviceError(t *testing.T) {
	m := startDevice(t, func(emit emitFunc, cmdID uint16, data *[]byte) {
		if cmdID == protocol.MsgStartRecording {
			sendError(emit, core.CodeWindowNotPowerOfTwo)
		}
	})

	_, err := m.Start(testContext(t), Session{Resolution: core.Resolution8, SampleRate: 8000, Window: 6})
	if !errors.Is(err, core.ErrWindowNotPowerOfTwo) {
		t.Errorf("Expected ErrWindowNotPowerOfTwo, got %v", err)
	}
}

func TestStartEncodesSession(t *testing.T) {
	var got []uint32
	m := startDevice(t, func(emit emitFunc, cmdID uint16, data *[]byte) {
		if cmdID != protocol.MsgStartRecording {
			return
		}
		for i := 0; i < 4; i++ {
			v, _ := protocol.DecodeVLQUint(data)
			got = append(got, v)
		}
		sendStatus(emit, protocol.StateWarmup, 0)
	})

	status, err := m.Start(testContext(t), Session{
		Resolution: core.Resolution10,
		SampleRate: 22050,
		Window:     16,
		Warmup:     250 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if status.StateName() != "warmup" {
		t.Errorf("Expected warmup state, got %s", status.StateName())
	}
	want := []uint32{10, 22050, 16, 250}
	if len(got) != len(want) {
		t.Fatalf("Expected args %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Arg %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestSolveClock(t *testing.T) {
	m := startDevice(t, func(emit emitFunc, cmdID uint16, data *[]byte) {
		if cmdID != protocol.MsgSolveClock {
			return
		}
		desired, _ := protocol.DecodeVLQUint(data)
		emit(protocol.MsgClockSolution, func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, 256)
			protocol.EncodeVLQUint(out, 16000000/256/desired)
			protocol.EncodeVLQUint(out, 62500)
			protocol.EncodeVLQUint(out, 0)
		})
	})

	sol, err := m.SolveClock(testContext(t), 62500, core.BiasNone)
	if err != nil {
		t.Fatalf("SolveClock failed: %v", err)
	}
	if sol.Divisor != 256 || sol.Compare != 1 || sol.Achieved != 62500 || sol.ErrorPPM != 0 {
		t.Errorf("Unexpected solution: %+v", sol)
	}
}

func TestEvents(t *testing.T) {
	m := startDevice(t, func(emit emitFunc, cmdID uint16, data *[]byte) {
		if cmdID != protocol.MsgGetEvents {
			return
		}
		for i := uint32(0); i < 3; i++ {
			emit(protocol.MsgEvent, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, core.EvtSlotFull)
				protocol.EncodeVLQUint(out, i%2)
				protocol.EncodeVLQUint(out, 1000*i)
				protocol.EncodeVLQUint(out, i)
				protocol.EncodeVLQUint(out, 0)
			})
		}
	})

	events, err := m.Events(testContext(t), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[2].EventType != core.EvtSlotFull || events[2].Clock != 2000 || events[1].Arg != 1 {
		t.Errorf("Unexpected events: %+v", events)
	}
}

// memWriter collects samples per channel.
type memWriter struct {
	data map[int][]byte
}

func (w *memWriter) WriteSamples(ch int, data []byte) error {
	if w.data == nil {
		w.data = make(map[int][]byte)
	}
	w.data[ch] = append(w.data[ch], data...)
	return nil
}

func ramp(start, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(start + i)
	}
	return b
}

func TestRecord(t *testing.T) {
	m := startDevice(t, func(emit emitFunc, cmdID uint16, data *[]byte) {
		switch cmdID {
		case protocol.MsgIdentify:
			sendIdentity(emit, 2)
		case protocol.MsgStartRecording:
			sendStatus(emit, protocol.StateActive, 0)
			// first window streams while recording
			sendData(emit, 0, 0, 0, ramp(0, 20))
			sendData(emit, 0, 0, 20, ramp(20, 12))
		case protocol.MsgStopRecording:
			emit(protocol.MsgRecordingStopped, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, 64)
			})
			sendData(emit, 1, 1, 0, ramp(100, 32))
			emit(protocol.MsgRecordingDone, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, 2)
			})
		}
	})

	w := &memWriter{}
	res, err := m.Record(testContext(t), Session{Resolution: core.Resolution8, SampleRate: 8000, Window: 32}, 20*time.Millisecond, w)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if res.Collected != 64 || res.Windows != 2 {
		t.Errorf("Expected 64 collected in 2 windows, got %d in %d", res.Collected, res.Windows)
	}
	if len(res.Bytes) != 2 || res.Bytes[0] != 32 || res.Bytes[1] != 32 {
		t.Errorf("Expected 32 bytes per channel, got %v", res.Bytes)
	}
	if res.EffectiveRate <= 0 {
		t.Errorf("Expected a positive effective rate, got %f", res.EffectiveRate)
	}
	if len(w.data[0]) != 32 || w.data[0][31] != 31 || w.data[1][0] != 100 {
		t.Errorf("Unexpected samples: %v", w.data)
	}
}

func TestRecordAbortsOnDeviceError(t *testing.T) {
	stopped := make(chan struct{}, 1)
	m := startDevice(t, func(emit emitFunc, cmdID uint16, data *[]byte) {
		switch cmdID {
		case protocol.MsgIdentify:
			sendIdentity(emit, 1)
		case protocol.MsgStartRecording:
			sendStatus(emit, protocol.StateActive, 0)
			sendError(emit, core.CodeChannelArming)
		case protocol.MsgStopRecording:
			stopped <- struct{}{}
			emit(protocol.MsgRecordingStopped, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, 0)
			})
			emit(protocol.MsgRecordingDone, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, 0)
			})
		}
	})

	start := time.Now()
	_, err := m.Record(testContext(t), Session{Resolution: core.Resolution8, SampleRate: 8000, Window: 8}, time.Minute, &memWriter{})
	if !errors.Is(err, core.ErrInvalidChannel) {
		t.Errorf("Expected ErrInvalidChannel, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("Record should abort without waiting for the duration")
	}
	select {
	case <-stopped:
	default:
		t.Error("Expected stop_recording to be sent after the error")
	}
}

func TestRecordReportsGap(t *testing.T) {
	m := startDevice(t, func(emit emitFunc, cmdID uint16, data *[]byte) {
		switch cmdID {
		case protocol.MsgIdentify:
			sendIdentity(emit, 1)
		case protocol.MsgStartRecording:
			sendStatus(emit, protocol.StateActive, 0)
		case protocol.MsgStopRecording:
			emit(protocol.MsgRecordingStopped, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, 16)
			})
			sendData(emit, 0, 0, 0, ramp(0, 8))
			sendData(emit, 0, 2, 0, ramp(0, 8))
			emit(protocol.MsgRecordingDone, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, 2)
			})
		}
	})

	_, err := m.Record(testContext(t), Session{Resolution: core.Resolution8, SampleRate: 8000, Window: 8}, 10*time.Millisecond, &memWriter{})
	if !errors.Is(err, ErrSequenceGap) {
		t.Errorf("Expected ErrSequenceGap, got %v", err)
	}
}

type chunk struct {
	ch          uint8
	seq, offset uint32
	n           int
}

func TestAssembler(t *testing.T) {
	tests := []struct {
		name   string
		chunks []chunk
		want   error
	}{
		{
			name:   "contiguous",
			chunks: []chunk{{0, 0, 0, 4}, {0, 0, 4, 4}, {1, 1, 0, 8}},
		},
		{
			name:   "first window not zero",
			chunks: []chunk{{0, 1, 0, 8}},
			want:   ErrSequenceGap,
		},
		{
			name:   "missing chunk",
			chunks: []chunk{{0, 0, 0, 4}, {0, 0, 8, 4}},
			want:   ErrOffsetGap,
		},
		{
			name:   "continuation without start",
			chunks: []chunk{{0, 0, 4, 4}},
			want:   ErrSequenceGap,
		},
		{
			name:   "channel switch mid window",
			chunks: []chunk{{0, 0, 0, 4}, {1, 0, 4, 4}},
			want:   ErrSequenceGap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(&memWriter{}, 2)
			var err error
			for _, c := range tt.chunks {
				if err = a.Add(c.ch, c.seq, c.offset, make([]byte, c.n)); err != nil {
					break
				}
			}
			if tt.want == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAssemblerRejectsUnknownChannel(t *testing.T) {
	a := NewAssembler(&memWriter{}, 1)
	if err := a.Add(1, 0, 0, []byte{1}); err == nil {
		t.Error("Expected an error for channel 1 of a single-channel device")
	}
	if a.Windows() != 0 {
		t.Errorf("Expected no windows counted, got %d", a.Windows())
	}
}
