package protocol

import (
	"bytes"
	"sync/atomic"
)

// Frame layout: len, seq, payload..., crc_hi, crc_lo, sync.
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F
)

// ackLength is an empty frame: header and trailer only.
const ackLength = MessageLengthMin

// checkFrame validates the frame at the head of data. It returns the frame
// length, 0 if more bytes are needed, or -1 if the head is not a frame.
func checkFrame(data []byte) int {
	if len(data) < MessageLengthMin {
		return 0
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return -1
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return -1
	}
	if len(data) < n {
		return 0
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return -1
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return -1
	}
	return n
}

// frameReader splits a byte stream into validated frames. After a bad frame
// it skips to the next sync byte.
type frameReader struct {
	lost atomic.Bool

	onResync func() // called once sync is regained
	onBad    func() // called for every rejected frame
}

// split hands every complete frame at the head of data to fn and returns the
// unconsumed tail. fn returning false stops the scan after that frame.
func (r *frameReader) split(data []byte, fn func(seq uint8, payload []byte) bool) []byte {
	for len(data) > 0 {
		if r.lost.Load() {
			i := bytes.IndexByte(data, MessageValueSync)
			if i < 0 {
				return nil
			}
			data = data[i+1:]
			r.lost.Store(false)
			if r.onResync != nil {
				r.onResync()
			}
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		n := checkFrame(data)
		if n == 0 {
			return data
		}
		if n < 0 {
			r.desync()
			if r.onBad != nil {
				r.onBad()
			}
			continue
		}
		seq := data[MessagePositionSeq]
		payload := data[MessageHeaderSize : n-MessageTrailerSize]
		data = data[n:]
		if !fn(seq, payload) {
			return data
		}
	}
	return data
}

func (r *frameReader) desync() {
	r.lost.Store(true)
}

func (r *frameReader) reset() {
	r.lost.Store(false)
}

// encodeFrame writes one frame around body into out.
func encodeFrame(out OutputBuffer, seq uint8, body func(out OutputBuffer)) {
	start := out.CurPosition()
	out.Output([]byte{0, seq})
	if body != nil {
		body(out)
	}
	out.Update(start+MessagePositionLen, uint8(len(out.DataSince(start))+MessageTrailerSize))
	crc := CRC16(out.DataSince(start))
	out.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

func nextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
