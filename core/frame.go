package core

// Resolution is the converter bit width.
type Resolution uint8

const (
	Resolution8  Resolution = 8
	Resolution10 Resolution = 10
	Resolution12 Resolution = 12
)

// MinBufferPerChannel is the smallest sample buffer share per channel.
const MinBufferPerChannel = 512

// slotCount is the number of double-buffer halves.
const slotCount = 2

// Valid reports whether the resolution is supported.
func (r Resolution) Valid() bool {
	switch r {
	case Resolution8, Resolution10, Resolution12:
		return true
	}
	return false
}

// BytesPerSample is 1 for 8-bit samples and 2 otherwise.
func (r Resolution) BytesPerSample() int {
	if r == Resolution8 {
		return 1
	}
	return 2
}

// PCM16 re-biases a right-aligned N-bit reading around zero and scales it to
// the full signed 16-bit range. The result is returned as raw bits.
func (r Resolution) PCM16(raw uint16) uint16 {
	raw &= 1<<r - 1
	mid := uint16(1) << (r - 1)
	return (raw - mid) << (16 - r)
}

// Layout is how a caller buffer is sliced into slots and channel regions.
type Layout struct {
	BytesPerSample int
	SlotBytes      int // each of the two halves
	ChannelBytes   int // per channel region inside a slot
	WindowBytes    int // bytes written before switching channel
}

// ComputeLayout validates a buffer configuration. Channel regions shrink to
// a whole number of windows; nothing shrinks at runtime.
func ComputeLayout(res Resolution, nch, windowSamples, bufSize int) (Layout, error) {
	switch {
	case !res.Valid():
		return Layout{}, ErrResolution
	case nch < 1:
		return Layout{}, ErrNoChannels
	case nch > MaxChannels:
		return Layout{}, ErrTooManyChannels
	case windowSamples <= 0:
		return Layout{}, ErrZeroWindow
	case windowSamples&(windowSamples-1) != 0:
		return Layout{}, ErrWindowNotPowerOfTwo
	case bufSize < MinBufferPerChannel*nch:
		return Layout{}, ErrBufferTooSmall
	}

	bps := res.BytesPerSample()
	samplesPerSlot := bufSize / (slotCount * bps)
	samplesPerChannel := samplesPerSlot / nch
	samplesPerChannel -= samplesPerChannel & (windowSamples - 1)
	if samplesPerChannel == 0 {
		return Layout{}, ErrWindowTooLarge
	}

	return Layout{
		BytesPerSample: bps,
		SlotBytes:      samplesPerSlot * bps,
		ChannelBytes:   samplesPerChannel * bps,
		WindowBytes:    windowSamples * bps,
	}, nil
}

// Producer is the interrupt-side view of a recording session.
type Producer interface {
	// OnConversion consumes one finished conversion.
	OnConversion()
}

// frame is the state shared between the conversion interrupt and the
// consumer. The interrupt owns the cursors; the consumer only touches the
// full flags, and only inside a critical section.
type frame struct {
	adc ConverterDriver

	res         Resolution
	rawShift    uint8 // converter bits above res
	slots       [slotCount][]byte
	channels    [MaxChannels]Channel
	last        int // channel count - 1
	span        int // Layout.ChannelBytes
	windowBytes int
	windowMask  int

	slot   int    // active slot
	ch     int    // active channel
	offset int    // byte offset inside the active channel region
	cur    []byte // active channel region

	full  [slotCount]bool
	chErr bool

	collected uint32
	dropped   uint32
	active    bool
	ingest    bool // false while warming up
}

// reset re-slices buf and clears all cursors and flags.
func (f *frame) reset(adc ConverterDriver, res Resolution, l Layout, channels []Channel, buf []byte) {
	*f = frame{
		adc:         adc,
		res:         res,
		last:        len(channels) - 1,
		span:        l.ChannelBytes,
		windowBytes: l.WindowBytes,
		windowMask:  l.WindowBytes - 1,
	}
	if bits := adc.Timing().Bits; bits > uint8(res) {
		f.rawShift = bits - uint8(res)
	}
	copy(f.channels[:], channels)
	f.slots[0] = buf[:l.SlotBytes]
	f.slots[1] = buf[l.SlotBytes : 2*l.SlotBytes]
	f.cur = f.region(0, 0)
}

// region returns one channel's share of a slot.
func (f *frame) region(slot, ch int) []byte {
	start := ch * f.span
	return f.slots[slot][start : start+f.span]
}

// OnConversion runs in interrupt context at the sample rate. It never
// blocks or allocates; samples that cannot be stored are dropped.
func (f *frame) OnConversion() {
	f.adc.AckTrigger()

	if !f.active || !f.ingest {
		return
	}
	if f.full[0] && f.full[1] {
		f.dropped++
		return
	}
	if f.chErr {
		return
	}

	if f.res == Resolution8 {
		f.cur[f.offset] = f.adc.ReadHigh()
		f.offset++
	} else {
		v := f.res.PCM16(f.adc.ReadRaw() >> f.rawShift)
		f.cur[f.offset] = uint8(v)
		f.cur[f.offset+1] = uint8(v >> 8)
		f.offset += 2
	}
	f.collected++

	swapped := false
	if f.offset == f.span && f.ch == f.last {
		f.full[f.slot] = true
		RecordEvent(EvtSlotFull, uint8(f.slot), f.collected, f.dropped)
		f.slot ^= 1
		f.offset = 0
		f.ch = 0
		f.cur = f.region(f.slot, 0)
		swapped = true
		if f.full[f.slot] {
			RecordEvent(EvtOverrun, uint8(f.slot), f.collected, f.dropped)
		}
	}

	if f.last == 0 {
		return
	}
	if swapped {
		f.arm(0)
		return
	}
	if f.offset&f.windowMask != 0 {
		return
	}
	if f.ch == f.last {
		f.ch = 0
	} else {
		f.ch++
		f.offset -= f.windowBytes
	}
	f.cur = f.region(f.slot, f.ch)
	f.arm(f.ch)
}

// arm routes channel ch to the converter. Failure is sticky until the next
// Start.
func (f *frame) arm(ch int) {
	sel, ok := f.channels[ch].Selector()
	if ok && f.adc.SelectChannel(sel) {
		return
	}
	f.chErr = true
	RecordEvent(EvtChannelError, uint8(ch), f.collected, uint32(f.channels[ch].Pin))
}
