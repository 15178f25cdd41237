package protocol

import "sync/atomic"

// CommandHandler runs one decoded command. data holds the remaining frame
// bytes; the handler consumes its own arguments from it.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware side of the link. Every accepted host frame is
// acknowledged with the next expected sequence; responses produced by the
// handler are encoded after the acknowledgement.
type Transport struct {
	reader frameReader
	// expected host sequence, 0x10-0x1F; also stamped on outgoing frames
	nextSeq atomic.Uint32
	dropped atomic.Uint32

	output  OutputBuffer
	handler CommandHandler
	onReset func()
	onFlush func()
}

// NewTransport creates a transport writing into output.
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		output:  output,
		handler: handler,
	}
	t.nextSeq.Store(MessageDest)
	t.reader.onResync = t.encodeAck
	return t
}

// Receive consumes every complete frame in input.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	rest := t.reader.split(data, func(seq uint8, payload []byte) bool {
		t.accept(seq, payload)
		return true
	})
	if consumed := len(data) - len(rest); consumed > 0 {
		input.Pop(consumed)
	}
}

// accept runs a frame whose sequence matches and acknowledges it. A frame
// out of sequence is only answered, which tells the host what to resend.
func (t *Transport) accept(seq uint8, payload []byte) {
	expected := uint8(t.nextSeq.Load())
	// a host restarting its sequence is a host reset
	if seq == MessageDest && expected != MessageDest {
		t.nextSeq.Store(MessageDest)
		expected = MessageDest
		if t.onReset != nil {
			t.onReset()
		}
	}
	if seq == expected {
		t.nextSeq.Store(uint32(nextSequence(seq)))
		t.dispatch(payload)
	}
	t.encodeAck()
}

// dispatch runs every command in a frame. A panicking handler drops the
// link so the host resynchronises.
func (t *Transport) dispatch(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.reader.desync()
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.reader.desync()
			return
		}
		if t.handler == nil {
			return
		}
		// handler errors end this frame but keep the link
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return
		}
	}
}

// encodeAck writes an empty frame carrying the next expected sequence and
// flushes it at once, so the host sees it ahead of any response.
func (t *Transport) encodeAck() {
	if t.output.Free() < ackLength && t.onFlush != nil {
		t.onFlush()
	}
	if t.output.Free() < ackLength {
		t.dropped.Add(1)
		return
	}
	encodeFrame(t.output, uint8(t.nextSeq.Load()), nil)
	if t.onFlush != nil {
		t.onFlush()
	}
}

// SendCommand encodes one response frame. Frames that could overflow the
// output buffer are dropped and counted; callers that stream use Room first.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	if t.output.Free() < MessageLengthMax {
		t.dropped.Add(1)
		return
	}
	encodeFrame(t.output, uint8(t.nextSeq.Load()), func(out OutputBuffer) {
		EncodeVLQUint(out, uint32(cmdID))
		if args != nil {
			args(out)
		}
	})
}

// Room returns the space left for outgoing frames.
func (t *Transport) Room() int {
	return t.output.Free()
}

// Dropped returns the number of frames discarded for lack of room.
func (t *Transport) Dropped() uint32 {
	return t.dropped.Load()
}

// Reset returns to the power-on sequence, as after a USB reconnect.
func (t *Transport) Reset() {
	t.reader.reset()
	t.nextSeq.Store(MessageDest)
	if t.onReset != nil {
		t.onReset()
	}
}

// SetResetCallback installs the hook run on a host or link reset.
func (t *Transport) SetResetCallback(callback func()) {
	t.onReset = callback
}

// SetFlushCallback installs the hook that pushes buffered output to the
// wire.
func (t *Transport) SetFlushCallback(callback func()) {
	t.onFlush = callback
}
