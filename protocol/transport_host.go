package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrMessageTooLong  = errors.New("message too long")
	ErrNoAck           = errors.New("no ACK from device")
)

// sendAttempts bounds retransmissions after a NAK.
const sendAttempts = 3

// Response is one decoded device message.
type Response struct {
	ID       uint16
	Args     []byte // arguments after the message ID
	Sequence uint8
}

// HostTransport is the host side of the framed protocol: it sends commands,
// waits for the device's ACK and delivers responses in arrival order.
type HostTransport struct {
	port io.ReadWriteCloser

	// sequence of the next command, 0x10-0x1F
	currentSeq uint32 // atomic

	reader      frameReader
	inputBuffer *FifoBuffer
	readMutex   sync.Mutex
	writeMutex  sync.Mutex

	ackChan      chan uint8
	responseChan chan Response

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once

	framesBad uint32 // atomic
}

// NewHostTransport creates a host-side transport and starts its reader.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		inputBuffer:  NewFifoBuffer(1024),
		ackChan:      make(chan uint8, 4),
		responseChan: make(chan Response, 256),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	t.reader.onBad = func() { atomic.AddUint32(&t.framesBad, 1) }

	go t.readLoop()
	return t
}

// SendCommand sends a command and waits up to two seconds for the ACK.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends a command with a custom ACK timeout.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.Send(ctx, cmdID, args)
}

// Send frames a command, writes it and waits for the matching ACK. A NAK
// resynchronises the sequence number to the device's and retransmits.
func (t *HostTransport) Send(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	for attempt := 0; attempt < sendAttempts; attempt++ {
		seq := uint8(atomic.LoadUint32(&t.currentSeq))
		msg, err := BuildFrame(seq, cmdID, args)
		if err != nil {
			return err
		}

		t.drainAcks()
		if _, err := t.port.Write(msg); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}

		ack, err := t.waitForAck(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", MessageName(cmdID), err)
		}

		next := nextSequence(seq)
		if ack == next {
			atomic.StoreUint32(&t.currentSeq, uint32(next))
			return nil
		}
		// NAK: the device tells us which sequence it expects
		atomic.StoreUint32(&t.currentSeq, uint32(ack))
	}
	return fmt.Errorf("%s: %w after %d attempts", MessageName(cmdID), ErrNoAck, sendAttempts)
}

// BuildFrame encodes one complete frame: length, sequence, message ID,
// arguments, CRC and sync byte.
func BuildFrame(seq uint8, cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput(OutputBufferSize)
	encodeFrame(scratch, seq, func(out OutputBuffer) {
		EncodeVLQUint(out, uint32(cmdID))
		if args != nil {
			args(out)
		}
	})
	msgLen := scratch.CurPosition()
	if msgLen > MessageLengthMax || scratch.Overflows() > 0 {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLong, msgLen, MessageLengthMax)
	}

	out := make([]byte, msgLen)
	copy(out, scratch.Result())
	return out, nil
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.ackChan:
		default:
			return
		}
	}
}

func (t *HostTransport) waitForAck(ctx context.Context) (uint8, error) {
	select {
	case ack := <-t.ackChan:
		return ack, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrNoAck, ctx.Err())
	case <-t.stopChan:
		return 0, ErrTransportClosed
	}
}

// Responses returns the channel of device messages. The reader blocks when
// it is full, so slow consumers apply backpressure instead of losing data.
func (t *HostTransport) Responses() <-chan Response {
	return t.responseChan
}

// ReceiveResponse waits for the next device message.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (Response, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-time.After(timeout):
		return Response{}, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return Response{}, ErrTransportClosed
	}
}

// Expect waits for a message with the given ID, discarding others.
func (t *HostTransport) Expect(ctx context.Context, id uint16) (Response, error) {
	for {
		select {
		case resp := <-t.responseChan:
			if resp.ID == id {
				return resp, nil
			}
		case <-ctx.Done():
			return Response{}, fmt.Errorf("waiting for %s: %w", MessageName(id), ctx.Err())
		case <-t.stopChan:
			return Response{}, ErrTransportClosed
		}
	}
}

// BadFrames returns the number of frames rejected for length or CRC.
func (t *HostTransport) BadFrames() uint32 {
	return atomic.LoadUint32(&t.framesBad)
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			data := buffer[:n]
			for len(data) > 0 {
				w := t.inputBuffer.Write(data)
				data = data[w:]
				t.processMessages()
			}
		}
		if err != nil {
			// serial read timeouts surface as io.EOF; only a closed port ends the loop
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// processMessages parses every complete frame in the input buffer.
func (t *HostTransport) processMessages() {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	data := t.inputBuffer.Data()
	rest := t.reader.split(data, func(seq uint8, payload []byte) bool {
		// the ring reuses its storage
		return t.dispatch(seq, append([]byte(nil), payload...))
	})
	if consumed := len(data) - len(rest); consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}
}

// dispatch routes an ACK to the sender and every message in a frame to the
// response channel. It returns false once the transport is closing.
func (t *HostTransport) dispatch(seq uint8, payload []byte) bool {
	if len(payload) == 0 {
		select {
		case t.ackChan <- seq:
		default:
		}
		return true
	}

	// the device sends one message per frame
	id, err := DecodeVLQUint(&payload)
	if err != nil {
		atomic.AddUint32(&t.framesBad, 1)
		return true
	}
	select {
	case t.responseChan <- Response{ID: uint16(id), Args: payload, Sequence: seq}:
		return true
	case <-t.stopChan:
		return false
	}
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset returns the transport to its initial sequence and drops buffered
// input.
func (t *HostTransport) Reset() {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	t.reader.reset()
	atomic.StoreUint32(&t.currentSeq, MessageDest)
	t.drainAcks()
	t.inputBuffer.Reset()
}

// CurrentSequence returns the sequence the next command will carry.
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
