// Package protocol implements the framed serial protocol shared by the
// recorder firmware and the host tool.
package protocol

// Version represents the recorder firmware version
const Version = "0.3.0"

// OutputBufferSize is the scratch size of the USB target, which batches
// several frames per flush. A UART target can use as little as two frames.
const OutputBufferSize = 512

// Message IDs. Both sides compile the same table, so no dictionary exchange
// is needed.
const (
	MsgIdentifyResponse uint16 = 0 // version=%*s channels=%c buffer=%u
	MsgIdentify         uint16 = 1 //
	MsgStartRecording   uint16 = 2 // res=%c rate=%u window=%hu warmup_ms=%u
	MsgStopRecording    uint16 = 3 //
	MsgQueryRecording   uint16 = 4 //
	MsgSolveClock       uint16 = 5 // desired=%u bias=%c
	MsgRecordingStatus  uint16 = 6 // state=%c collected=%u
	MsgRecordingStopped uint16 = 7 // collected=%u
	MsgRecordingError   uint16 = 8 // code=%c
	MsgRecordingData    uint16 = 9 // channel=%c seq=%u offset=%u data=%*s
	MsgRecordingDone    uint16 = 10
	MsgClockSolution    uint16 = 11 // divisor=%u compare=%u actual=%u error_ppm=%u
	MsgGetEvents        uint16 = 12 //
	MsgEvent            uint16 = 13 // type=%c arg=%c clock=%u v1=%u v2=%u
	messageCount               = 14
)

// MessageNames maps message IDs to their wire names for logging.
var MessageNames = [messageCount]string{
	MsgIdentifyResponse: "identify_response",
	MsgIdentify:         "identify",
	MsgStartRecording:   "start_recording",
	MsgStopRecording:    "stop_recording",
	MsgQueryRecording:   "query_recording",
	MsgSolveClock:       "solve_clock",
	MsgRecordingStatus:  "recording_status",
	MsgRecordingStopped: "recording_stopped",
	MsgRecordingError:   "recording_error",
	MsgRecordingData:    "recording_data",
	MsgRecordingDone:    "recording_done",
	MsgClockSolution:    "clock_solution",
	MsgGetEvents:        "get_events",
	MsgEvent:            "event",
}

// MessageName returns the wire name of id, or "unknown".
func MessageName(id uint16) string {
	if int(id) < len(MessageNames) {
		return MessageNames[id]
	}
	return "unknown"
}

// DataChunkMax is the largest recording_data payload. With the ID, the three
// VLQ arguments and the length prefix it keeps every frame within
// MessageLengthMax.
const DataChunkMax = 40

// Recording states reported by recording_status.
const (
	StateIdle     = 0
	StateWarmup   = 1
	StateActive   = 2
	StateErrored  = 3
	StateDraining = 4
)
