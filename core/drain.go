package core

// WindowSink stores delivered windows. WriteWindow is handed the unsent part
// of w starting at offset and returns how many bytes it took; 0 means busy,
// try again on the next poll.
type WindowSink interface {
	WriteWindow(seq uint32, w Window, offset int) int
}

// Drainer is the cooperative consumer: it walks the exchange cursor and
// feeds every window to a sink, resuming where the sink last stopped.
// Run Poll from the main loop.
type Drainer struct {
	ex   Exchange
	sink WindowSink

	cur      Window
	sent     int
	seq      uint32
	draining bool
}

// NewDrainer creates a drainer over ex.
func NewDrainer(ex Exchange, sink WindowSink) *Drainer {
	return &Drainer{ex: ex, sink: sink}
}

// Reset drops the cursor. Call it whenever a new session starts.
func (d *Drainer) Reset() {
	d.cur = Window{}
	d.sent = 0
	d.seq = 0
	d.draining = false
}

// Finish switches to remainder mode; call it after the session is stopped.
func (d *Drainer) Finish() {
	d.draining = true
}

// Draining reports whether Finish was called and the remainder is not yet
// exhausted.
func (d *Drainer) Draining() bool {
	return d.draining
}

// Windows returns the number of windows fully handed to the sink.
func (d *Drainer) Windows() uint32 {
	return d.seq
}

// Poll moves as much data as the sink accepts. It returns true exactly once,
// when the remainder of a finished session has been delivered.
func (d *Drainer) Poll() bool {
	for {
		if d.cur.Empty() {
			w, ok := d.next(Window{})
			if !ok {
				return d.complete()
			}
			d.cur, d.sent = w, 0
		}

		for d.sent < len(d.cur.Data) {
			n := d.sink.WriteWindow(d.seq, d.cur, d.sent)
			if n <= 0 {
				return false
			}
			d.sent += n
		}
		d.seq++

		// handing the window back consumes it, even when nothing follows
		w, ok := d.next(d.cur)
		d.cur, d.sent = w, 0
		if !ok {
			return d.complete()
		}
	}
}

func (d *Drainer) next(prev Window) (Window, bool) {
	if d.draining {
		return d.ex.DrainRemainder(prev)
	}
	return d.ex.TakeReady(prev)
}

func (d *Drainer) complete() bool {
	if !d.draining {
		return false
	}
	d.draining = false
	return true
}
