package protocol

// InputBuffer is the receive side seen by a transport: a contiguous view of
// unparsed bytes that the transport pops as it consumes frames.
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer collects encoded frames until the target flushes them.
// Free lets producers such as the recording stream stop before a frame
// would no longer fit.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
	Free() int
}

// SliceInputBuffer is an InputBuffer over a caller-owned slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is a fixed-size OutputBuffer. A write that does not fit is
// dropped whole and counted, so a flush never carries a torn frame.
type ScratchOutput struct {
	buf      []byte
	pos      int
	overflow uint32
}

// NewScratchOutput allocates size bytes, never less than one full frame.
func NewScratchOutput(size int) *ScratchOutput {
	if size < MessageLengthMax {
		size = MessageLengthMax
	}
	return &ScratchOutput{buf: make([]byte, size)}
}

func (s *ScratchOutput) Output(data []byte) {
	if len(data) > len(s.buf)-s.pos {
		s.overflow++
		return
	}
	s.pos += copy(s.buf[s.pos:], data)
}

func (s *ScratchOutput) CurPosition() int {
	return s.pos
}

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

func (s *ScratchOutput) Free() int {
	return len(s.buf) - s.pos
}

// Overflows returns the number of writes dropped for lack of room.
func (s *ScratchOutput) Overflows() uint32 {
	return s.overflow
}

// Result returns everything written since the last Reset.
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

func (s *ScratchOutput) Reset() {
	s.pos = 0
}

// FifoBuffer is the receive ring between the serial reader and the
// transport. Capacity is rounded up to a power of two and every byte of it
// is usable; the indices run free and are masked on access.
type FifoBuffer struct {
	buf   []byte
	line  []byte // linear copy handed out when the data wraps
	mask  uint32
	read  uint32
	write uint32
}

// NewFifoBuffer creates a ring holding at least capacity bytes.
func NewFifoBuffer(capacity int) *FifoBuffer {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &FifoBuffer{
		buf:  make([]byte, size),
		line: make([]byte, size),
		mask: uint32(size - 1),
	}
}

// Write appends as much of data as fits and returns the count.
func (f *FifoBuffer) Write(data []byte) int {
	n := f.Free()
	if n > len(data) {
		n = len(data)
	}
	for _, b := range data[:n] {
		f.buf[f.write&f.mask] = b
		f.write++
	}
	return n
}

func (f *FifoBuffer) Available() int {
	return int(f.write - f.read)
}

func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.Available()
}

// Data returns the unread bytes as one slice. A wrapped ring is copied into
// a preallocated line buffer, so the main loop never allocates. The slice is
// valid until the next Write.
func (f *FifoBuffer) Data() []byte {
	n := f.Available()
	start := int(f.read & f.mask)
	if start+n <= len(f.buf) {
		return f.buf[start : start+n]
	}
	first := copy(f.line, f.buf[start:])
	copy(f.line[first:n], f.buf)
	return f.line[:n]
}

// Pop discards n bytes from the front.
func (f *FifoBuffer) Pop(n int) {
	if n > f.Available() {
		n = f.Available()
	}
	f.read += uint32(n)
}

func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
