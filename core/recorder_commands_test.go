package core

import (
	"testing"

	"adcrec/protocol"
)

func setupRecorderCommands(t *testing.T, bufSize int, pins ...AnalogPin) (*Recorder, *fakeADC, *fakeSender) {
	t.Helper()
	globalRegistry.Reset()
	r, adc, _ := newTestRecorder(t, bufSize, pins...)
	if err := InitRecorderCommands(r); err != nil {
		t.Fatalf("InitRecorderCommands failed: %v", err)
	}
	sender := &fakeSender{room: protocol.OutputBufferSize}
	SetGlobalTransport(sender)
	t.Cleanup(func() {
		r.Stop()
		SetGlobalTransport(nil)
		globalRegistry.Reset()
		recorder, drainer = nil, nil
	})
	return r, adc, sender
}

func encodeArgs(args ...uint32) []byte {
	out := protocol.NewScratchOutput(protocol.OutputBufferSize)
	for _, a := range args {
		protocol.EncodeVLQUint(out, a)
	}
	return out.Result()
}

func dispatch(t *testing.T, id uint16, args ...uint32) {
	t.Helper()
	data := encodeArgs(args...)
	if err := DispatchCommand(id, &data); err != nil {
		t.Fatalf("Dispatch %s failed: %v", protocol.MessageName(id), err)
	}
}

func decodeArgs(t *testing.T, m sentMessage, n int) []uint32 {
	t.Helper()
	data := m.args
	out := make([]uint32, n)
	for i := range out {
		v, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			t.Fatalf("Decoding argument %d of %s: %v", i, protocol.MessageName(m.id), err)
		}
		out[i] = v
	}
	return out
}

func lastStatus(t *testing.T, s *fakeSender) (state, collected uint32) {
	t.Helper()
	msgs := s.byID(protocol.MsgRecordingStatus)
	if len(msgs) == 0 {
		t.Fatal("Expected a recording_status response")
	}
	args := decodeArgs(t, msgs[len(msgs)-1], 2)
	return args[0], args[1]
}

func TestRecorderCommandsRegistered(t *testing.T) {
	setupRecorderCommands(t, 1024, PinA0)
	for _, id := range []uint16{
		protocol.MsgIdentify,
		protocol.MsgStartRecording,
		protocol.MsgStopRecording,
		protocol.MsgQueryRecording,
		protocol.MsgSolveClock,
		protocol.MsgGetEvents,
	} {
		if _, ok := GetGlobalRegistry().GetCommand(id); !ok {
			t.Errorf("Command %s not registered", protocol.MessageName(id))
		}
	}
}

func TestIdentifyCommand(t *testing.T) {
	_, _, sender := setupRecorderCommands(t, 2048, PinA0, PinA1, PinA2)
	dispatch(t, protocol.MsgIdentify)

	msgs := sender.byID(protocol.MsgIdentifyResponse)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 identify_response, got %d", len(msgs))
	}
	data := msgs[0].args
	version, err := protocol.DecodeVLQString(&data)
	if err != nil || version != protocol.Version {
		t.Errorf("Expected version %s, got %q (%v)", protocol.Version, version, err)
	}
	channels, _ := protocol.DecodeVLQUint(&data)
	buffer, _ := protocol.DecodeVLQUint(&data)
	if channels != 3 || buffer != 2048 {
		t.Errorf("Expected 3 channels and 2048 bytes, got %d and %d", channels, buffer)
	}
}

func TestStartRecordingCommand(t *testing.T) {
	r, _, sender := setupRecorderCommands(t, 2048, PinA0, PinA1)
	dispatch(t, protocol.MsgStartRecording, 8, 1000, 8, 0)

	if !r.Active() {
		t.Fatal("Expected recorder active")
	}
	state, collected := lastStatus(t, sender)
	if state != protocol.StateActive || collected != 0 {
		t.Errorf("Expected active with 0 samples, got state %d with %d", state, collected)
	}
}

func TestStartRecordingCommandWarmup(t *testing.T) {
	SetTime(0)
	_, _, sender := setupRecorderCommands(t, 1024, PinA0)
	dispatch(t, protocol.MsgStartRecording, 8, 1000, 8, 50)

	state, _ := lastStatus(t, sender)
	if state != protocol.StateWarmup {
		t.Errorf("Expected warmup state, got %d", state)
	}
}

func TestStartRecordingCommandRejects(t *testing.T) {
	tests := []struct {
		name string
		args []uint32
		code uint8
	}{
		{"window not power of two", []uint32{8, 1000, 6, 0}, CodeWindowNotPowerOfTwo},
		{"resolution", []uint32{11, 1000, 8, 0}, CodeResolution},
		{"zero rate", []uint32{8, 0, 8, 0}, CodeZeroDivision},
		{"resolution wider than a byte", []uint32{264, 1000, 8, 0}, CodeResolution},
		{"window wider than 16 bits", []uint32{8, 1000, 1 << 16, 0}, CodeWindowTooLarge},
		{"warmup beyond the scheduler", []uint32{8, 1000, 8, 200000}, CodeWarmupRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, sender := setupRecorderCommands(t, 1024, PinA0)
			dispatch(t, protocol.MsgStartRecording, tt.args...)

			if r.Active() {
				t.Error("Expected recorder idle")
			}
			msgs := sender.byID(protocol.MsgRecordingError)
			if len(msgs) != 1 {
				t.Fatalf("Expected 1 recording_error, got %d", len(msgs))
			}
			code := decodeArgs(t, msgs[0], 1)[0]
			if uint8(code) != tt.code {
				t.Errorf("Expected code %d, got %d", tt.code, code)
			}
			if len(sender.byID(protocol.MsgRecordingStatus)) != 0 {
				t.Error("Expected no status after a failed start")
			}
		})
	}
}

func TestStartRecordingTruncatedArgs(t *testing.T) {
	setupRecorderCommands(t, 1024, PinA0)
	data := encodeArgs(8, 1000)
	if err := DispatchCommand(protocol.MsgStartRecording, &data); err == nil {
		t.Error("Expected an error for missing arguments")
	}
}

func TestRecordingTaskStreamsWindows(t *testing.T) {
	r, _, sender := setupRecorderCommands(t, 2048, PinA6, PinA7)
	dispatch(t, protocol.MsgStartRecording, 8, 1000, 8, 0)

	RecordingTask()
	if len(sender.byID(protocol.MsgRecordingData)) != 0 {
		t.Fatal("Expected no data before a slot fills")
	}

	produce(r, 1024)
	sender.room = 0
	RecordingTask()
	if len(sender.byID(protocol.MsgRecordingData)) != 0 {
		t.Fatal("Expected no data without transport room")
	}

	sender.room = protocol.OutputBufferSize
	RecordingTask()

	var streams [2][]byte
	var lastSeq uint32
	msgs := sender.byID(protocol.MsgRecordingData)
	// 512 bytes per window in 40-byte chunks
	if len(msgs) != 2*13 {
		t.Fatalf("Expected 26 chunks, got %d", len(msgs))
	}
	for _, m := range msgs {
		data := m.args
		ch, _ := protocol.DecodeVLQUint(&data)
		seq, _ := protocol.DecodeVLQUint(&data)
		offset, _ := protocol.DecodeVLQUint(&data)
		chunk, err := protocol.DecodeVLQBytes(&data)
		if err != nil {
			t.Fatalf("Decoding chunk: %v", err)
		}
		if len(chunk) > protocol.DataChunkMax {
			t.Errorf("Chunk of %d bytes exceeds %d", len(chunk), protocol.DataChunkMax)
		}
		if int(offset) != len(streams[ch]) {
			t.Errorf("Channel %d: expected offset %d, got %d", ch, len(streams[ch]), offset)
		}
		streams[ch] = append(streams[ch], chunk...)
		lastSeq = seq
	}
	if lastSeq != 1 {
		t.Errorf("Expected the second window to carry seq 1, got %d", lastSeq)
	}
	checkStream(t, 6, streams[0])
	checkStream(t, 7, streams[1])
	if len(streams[0]) != 512 || len(streams[1]) != 512 {
		t.Errorf("Expected 512 bytes per channel, got %d and %d", len(streams[0]), len(streams[1]))
	}
}

func TestStopRecordingDrainsRemainder(t *testing.T) {
	r, _, sender := setupRecorderCommands(t, 1024, PinA0)
	dispatch(t, protocol.MsgStartRecording, 8, 1000, 8, 0)
	produce(r, 20)

	dispatch(t, protocol.MsgStopRecording)
	stopped := sender.byID(protocol.MsgRecordingStopped)
	if len(stopped) != 1 || decodeArgs(t, stopped[0], 1)[0] != 20 {
		t.Fatal("Expected recording_stopped with 20 samples")
	}

	dispatch(t, protocol.MsgQueryRecording)
	if state, _ := lastStatus(t, sender); state != protocol.StateDraining {
		t.Errorf("Expected draining state, got %d", state)
	}

	RecordingTask()
	data := sender.byID(protocol.MsgRecordingData)
	if len(data) != 1 {
		t.Fatalf("Expected one remainder chunk, got %d", len(data))
	}
	args := data[0].args
	for i := 0; i < 3; i++ {
		protocol.DecodeVLQUint(&args)
	}
	chunk, _ := protocol.DecodeVLQBytes(&args)
	if len(chunk) != 16 {
		t.Errorf("Expected 16 bytes (two whole windows), got %d", len(chunk))
	}

	done := sender.byID(protocol.MsgRecordingDone)
	if len(done) != 1 || decodeArgs(t, done[0], 1)[0] != 1 {
		t.Fatal("Expected recording_done after one window")
	}

	RecordingTask()
	if len(sender.byID(protocol.MsgRecordingDone)) != 1 {
		t.Error("Expected recording_done sent once")
	}
	dispatch(t, protocol.MsgQueryRecording)
	if state, _ := lastStatus(t, sender); state != protocol.StateIdle {
		t.Errorf("Expected idle state, got %d", state)
	}
}

func TestRecordingTaskReportsArmingFailure(t *testing.T) {
	r, adc, sender := setupRecorderCommands(t, 2048, PinA0, PinA1)
	dispatch(t, protocol.MsgStartRecording, 8, 1000, 8, 0)
	adc.refuse[1] = true
	produce(r, 8)

	RecordingTask()
	RecordingTask()
	msgs := sender.byID(protocol.MsgRecordingError)
	if len(msgs) != 1 {
		t.Fatalf("Expected exactly 1 recording_error, got %d", len(msgs))
	}
	if code := decodeArgs(t, msgs[0], 1)[0]; uint8(code) != CodeChannelArming {
		t.Errorf("Expected channel arming code, got %d", code)
	}

	dispatch(t, protocol.MsgQueryRecording)
	if state, _ := lastStatus(t, sender); state != protocol.StateErrored {
		t.Errorf("Expected errored state, got %d", state)
	}
}

func TestSolveClockCommand(t *testing.T) {
	r, _, sender := setupRecorderCommands(t, 1024, PinA0)
	dispatch(t, protocol.MsgSolveClock, 16000, uint32(BiasHigh))

	msgs := sender.byID(protocol.MsgClockSolution)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 clock_solution, got %d", len(msgs))
	}
	args := decodeArgs(t, msgs[0], 4)
	if args[0] != 1 || args[1] != 1000 || args[2] != 16000 || args[3] != 0 {
		t.Errorf("Expected 1/1000 at 16000 Hz exact, got %v", args)
	}
	if r.clock.Active() {
		t.Error("Expected solve_clock to leave the timer alone")
	}

	dispatch(t, protocol.MsgSolveClock, 0, uint32(BiasHigh))
	errs := sender.byID(protocol.MsgRecordingError)
	if len(errs) != 1 || uint8(decodeArgs(t, errs[0], 1)[0]) != CodeZeroDivision {
		t.Error("Expected zero division error for 0 Hz")
	}
}

func TestGetEventsCommand(t *testing.T) {
	ClearEventRing()
	_, _, sender := setupRecorderCommands(t, 1024, PinA0)
	dispatch(t, protocol.MsgStartRecording, 8, 1000, 8, 0)
	dispatch(t, protocol.MsgStopRecording)

	dispatch(t, protocol.MsgGetEvents)
	msgs := sender.byID(protocol.MsgEvent)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(msgs))
	}
	if typ := decodeArgs(t, msgs[0], 1)[0]; typ != EvtStart {
		t.Errorf("Expected start event first, got %d", typ)
	}

	sender.room = 0
	dispatch(t, protocol.MsgGetEvents)
	if len(sender.byID(protocol.MsgEvent)) != 2 {
		t.Error("Expected no events sent without room")
	}
}
