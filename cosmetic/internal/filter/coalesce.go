package filter

import "time"

// coalescer is a two-state timer: Idle until triggered, then Pending until
// the window elapses. Triggers while Pending are absorbed; the deadline is
// never pushed back, so a steady event stream cannot starve processing.
type coalescer struct {
	window time.Duration
	timer  *time.Timer
	c      <-chan time.Time
}

func newCoalescer(window time.Duration) *coalescer {
	return &coalescer{window: window}
}

// trigger arms the timer when Idle. It reports whether a new window opened.
func (c *coalescer) trigger() bool {
	if c.timer != nil {
		return false
	}
	c.timer = time.NewTimer(c.window)
	c.c = c.timer.C
	return true
}

// C fires once when the pending window elapses. Nil while Idle, which
// parks the corresponding select case.
func (c *coalescer) C() <-chan time.Time { return c.c }

// fired returns the coalescer to Idle. Call it when C delivers.
func (c *coalescer) fired() {
	c.timer = nil
	c.c = nil
}

func (c *coalescer) pending() bool { return c.timer != nil }

func (c *coalescer) stop() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.fired()
}
