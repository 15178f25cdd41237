package core

import (
	"time"

	"adcrec/protocol"
)

var (
	recorder *Recorder
	drainer  *Drainer

	// armErrorSent latches the channel-arming report for one session
	armErrorSent bool
)

// InitRecorderCommands registers the recording commands for rec and routes
// its windows to the host as recording_data messages.
func InitRecorderCommands(rec *Recorder) error {
	recorder = rec
	drainer = NewDrainer(rec, streamSink{})

	handlers := []struct {
		id uint16
		h  CommandHandler
	}{
		{protocol.MsgIdentify, handleIdentify},
		{protocol.MsgStartRecording, handleStartRecording},
		{protocol.MsgStopRecording, handleStopRecording},
		{protocol.MsgQueryRecording, handleQueryRecording},
		{protocol.MsgSolveClock, handleSolveClock},
		{protocol.MsgGetEvents, handleGetEvents},
	}
	for _, e := range handlers {
		if err := RegisterCommand(e.id, e.h); err != nil {
			return err
		}
	}
	return nil
}

// RecordingTask streams ready windows to the host. Call it from the main
// loop; it returns as soon as the transport runs out of room.
func RecordingTask() {
	if drainer == nil {
		return
	}
	if !armErrorSent && recorder.Errored() {
		armErrorSent = true
		SendResponse(protocol.MsgRecordingError, func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(CodeChannelArming))
		})
	}
	if drainer.Poll() {
		windows := drainer.Windows()
		SendResponse(protocol.MsgRecordingDone, func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, windows)
		})
	}
}

// streamSink sends windows as recording_data chunks, one chunk per call.
type streamSink struct{}

func (streamSink) WriteWindow(seq uint32, w Window, offset int) int {
	if TransportRoom() < protocol.MessageLengthMax {
		return 0
	}
	chunk := w.Data[offset:]
	if len(chunk) > protocol.DataChunkMax {
		chunk = chunk[:protocol.DataChunkMax]
	}
	SendResponse(protocol.MsgRecordingData, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(w.Channel))
		protocol.EncodeVLQUint(output, seq)
		protocol.EncodeVLQUint(output, uint32(offset))
		protocol.EncodeVLQBytes(output, chunk)
	})
	return len(chunk)
}

func sendRecordingError(err error) {
	code := ErrorCode(err)
	SendResponse(protocol.MsgRecordingError, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(code))
	})
}

func handleIdentify(data *[]byte) error {
	channels := uint32(recorder.Channels())
	buffer := uint32(len(recorder.buf))
	SendResponse(protocol.MsgIdentifyResponse, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, protocol.Version)
		protocol.EncodeVLQUint(output, channels)
		protocol.EncodeVLQUint(output, buffer)
	})
	return nil
}

// handleStartRecording: res=%c rate=%u window=%hu warmup_ms=%u
func handleStartRecording(data *[]byte) error {
	var args [4]uint32
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		args[i] = v
	}
	err := startFromArgs(args)
	if err != nil {
		DebugPrintln("[REC] start failed: " + err.Error())
		sendRecordingError(err)
		return nil
	}
	// a rejected start leaves the running session and its stream alone
	drainer.Reset()
	armErrorSent = false
	sendRecordingStatus()
	return nil
}

// startFromArgs range-checks the wire arguments before they are narrowed.
func startFromArgs(args [4]uint32) error {
	switch {
	case args[0] > 0xFF:
		return ErrResolution
	case args[2] > 0xFFFF:
		return ErrWindowTooLarge
	}
	res, rate, window := Resolution(args[0]), args[1], int(args[2])
	warmup := time.Duration(args[3]) * time.Millisecond
	return recorder.Start(res, rate, window, warmup)
}

func handleStopRecording(data *[]byte) error {
	collected := recorder.Stop()
	drainer.Finish()
	SendResponse(protocol.MsgRecordingStopped, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, collected)
	})
	return nil
}

func handleQueryRecording(data *[]byte) error {
	sendRecordingStatus()
	return nil
}

func recordingState() uint32 {
	switch {
	case recorder.Errored():
		return protocol.StateErrored
	case recorder.WarmingUp():
		return protocol.StateWarmup
	case recorder.Active():
		return protocol.StateActive
	case drainer.Draining():
		return protocol.StateDraining
	}
	return protocol.StateIdle
}

func sendRecordingStatus() {
	state := recordingState()
	collected := recorder.Collected()
	SendResponse(protocol.MsgRecordingStatus, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, state)
		protocol.EncodeVLQUint(output, collected)
	})
}

// handleSolveClock: desired=%u bias=%c
func handleSolveClock(data *[]byte) error {
	desired, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	bias, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	cfg, err := recorder.clock.Configure(desired, Bias(bias))
	if err != nil {
		sendRecordingError(err)
		return nil
	}
	SendResponse(protocol.MsgClockSolution, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, cfg.Divisor)
		protocol.EncodeVLQUint(output, cfg.Compare)
		protocol.EncodeVLQUint(output, cfg.Achieved)
		protocol.EncodeVLQUint(output, cfg.ErrorPPM())
	})
	return nil
}

func handleGetEvents(data *[]byte) error {
	for _, evt := range Events() {
		if TransportRoom() < protocol.MessageLengthMax {
			break
		}
		evt := evt
		SendResponse(protocol.MsgEvent, func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(evt.EventType))
			protocol.EncodeVLQUint(output, uint32(evt.Arg))
			protocol.EncodeVLQUint(output, evt.Clock)
			protocol.EncodeVLQUint(output, evt.Value1)
			protocol.EncodeVLQUint(output, evt.Value2)
		})
	}
	return nil
}
