package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event captures a recording event for post-mortem analysis
type Event struct {
	EventType uint8  // Event type code
	Arg       uint8  // Slot or channel index
	Clock     uint32 // System clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtStart        = 1 // session started
	EvtStop         = 2 // session stopped
	EvtSlotFull     = 3 // slot handed to the consumer
	EvtOverrun      = 4 // producer reached a slot still being drained
	EvtChannelError = 5 // channel could not be routed to the converter
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Event capture ring buffer (non-blocking, written from interrupt context)
	eventRing     [EventRingSize]Event
	eventRingHead uint8
	eventsEnabled bool = true

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync for non-blocking)
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordEvent captures an event in the ring buffer. Callers must hold the
// interrupt lock or run in interrupt context.
func RecordEvent(eventType, arg uint8, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	idx := eventRingHead
	eventRing[idx] = Event{
		EventType: eventType,
		Arg:       arg,
		Clock:     GetTime(),
		Value1:    value1,
		Value2:    value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// Events returns the ring contents from oldest to newest, skipping empty
// slots.
func Events() []Event {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	out := make([]Event, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.EventType == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// EventName returns the log label of an event type.
func EventName(t uint8) string {
	switch t {
	case EvtStart:
		return "START"
	case EvtStop:
		return "STOP"
	case EvtSlotFull:
		return "SLOT_FULL"
	case EvtOverrun:
		return "OVERRUN!"
	case EvtChannelError:
		return "CHANNEL_ERR!"
	default:
		return "UNKNOWN"
	}
}

// DumpEventRing outputs the event ring buffer (call on shutdown/error)
func DumpEventRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENTS] === Event Ring Dump ===")
	var line [96]byte
	for _, evt := range Events() {
		b := append(line[:0], "[EVENTS] "...)
		b = append(b, EventName(evt.EventType)...)
		b = AppendUint(append(b, " arg="...), uint32(evt.Arg))
		b = AppendUint(append(b, " clock="...), evt.Clock)
		b = AppendUint(append(b, " v1="...), evt.Value1)
		b = AppendUint(append(b, " v2="...), evt.Value2)
		debugPrintln(string(b))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEventRing clears the event buffer
func ClearEventRing() {
	state := disableInterrupts()
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
	restoreInterrupts(state)
}
