package core

type windowSource uint8

const (
	srcNone windowSource = iota
	srcSlot0
	srcSlot1
	srcRemainder
)

// Window is one channel's worth of samples handed to the consumer. The zero
// Window is the empty cursor used to begin polling.
type Window struct {
	Data    []byte
	Channel int
	src     windowSource
}

// Empty reports whether w is the empty cursor.
func (w Window) Empty() bool {
	return w.src == srcNone
}

// Exchange is the consumer-side view of a recording session.
type Exchange interface {
	TakeReady(prev Window) (Window, bool)
	DrainRemainder(prev Window) (Window, bool)
	Collected() uint32
}

// TakeReady hands out filled channel regions in production order.
//
// Call it in a loop, passing back the previous result. With an empty cursor
// it returns the current channel region of the slot due for draining, or
// false if that slot is not full yet. Passing back the previous window marks
// it consumed: the next channel of the same slot is returned, and after the
// last channel the slot is released to the producer and the next slot's first
// channel is returned if it is already full.
func (r *Recorder) TakeReady(prev Window) (Window, bool) {
	switch prev.src {
	case srcNone:
		if !r.slotFull(r.drainSlot) {
			return Window{}, false
		}
		return r.slotWindow(r.drainSlot, r.drainCh), true

	case srcSlot0, srcSlot1:
		slot := int(prev.src - srcSlot0)
		if slot != r.drainSlot || prev.Channel != r.drainCh || !r.slotFull(slot) {
			// stale cursor
			return Window{}, false
		}
		r.drainCh++
		if r.drainCh <= r.frame.last {
			return r.slotWindow(slot, r.drainCh), true
		}
		r.drainCh = 0
		r.releaseSlot(slot)
		r.drainSlot ^= 1
		if !r.slotFull(r.drainSlot) {
			return Window{}, false
		}
		return r.slotWindow(r.drainSlot, 0), true
	}
	return Window{}, false
}

// DrainRemainder empties the session after Stop. It first hands out every
// still-full slot exactly like TakeReady, then the active slot's partial
// data, rounded down to whole windows, once per channel. After the last
// channel the write offset is cleared and further calls return false.
func (r *Recorder) DrainRemainder(prev Window) (Window, bool) {
	if r.Active() {
		return Window{}, false
	}

	if prev.src != srcRemainder {
		if w, ok := r.TakeReady(prev); ok {
			return w, true
		}
		if r.slotFull(r.drainSlot) {
			// stale cursor for a slot that is still waiting
			return Window{}, false
		}
		return r.remainderWindow(r.drainCh)
	}

	if prev.Channel != r.drainCh {
		return Window{}, false
	}
	r.drainCh++
	if r.drainCh > r.frame.last {
		r.drainCh = 0
		r.frame.offset = 0
		return Window{}, false
	}
	return r.remainderWindow(r.drainCh)
}

func (r *Recorder) slotWindow(slot, ch int) Window {
	return Window{
		Data:    r.frame.region(slot, ch),
		Channel: ch,
		src:     srcSlot0 + windowSource(slot),
	}
}

// remainderWindow returns channel ch's whole windows from the active slot.
// Every channel reports the same size: the windows all channels completed.
func (r *Recorder) remainderWindow(ch int) (Window, bool) {
	f := &r.frame
	size := f.offset &^ f.windowMask
	if size == 0 {
		return Window{}, false
	}
	return Window{
		Data:    f.region(f.slot, ch)[:size],
		Channel: ch,
		src:     srcRemainder,
	}, true
}

func (r *Recorder) slotFull(slot int) bool {
	state := disableInterrupts()
	full := r.frame.full[slot]
	restoreInterrupts(state)
	return full
}

func (r *Recorder) releaseSlot(slot int) {
	state := disableInterrupts()
	r.frame.full[slot] = false
	restoreInterrupts(state)
}
