// Package countdown models the per-question timer shown to players.
//
// The server sends a duration (and optionally an absolute deadline); the client
// counts down locally for display. Server events stay authoritative for every
// outcome, so nothing here decides eliminations.
package countdown

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// TickInterval is the granularity of the local countdown.
const TickInterval = time.Second

// Countdown tracks the remaining seconds until a deadline. It is not safe for
// concurrent use; the owner serializes access.
type Countdown struct {
	clock     clockwork.Clock
	deadline  time.Time
	remaining int
	running   bool
}

func New(clock clockwork.Clock) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{clock: clock}
}

// Reset replaces the countdown wholesale with a fresh limit starting now.
func (c *Countdown) Reset(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	c.deadline = c.clock.Now().Add(time.Duration(seconds) * time.Second)
	c.remaining = seconds
	c.running = seconds > 0
}

// SyncDeadline adopts a server-supplied absolute deadline.
func (c *Countdown) SyncDeadline(deadline time.Time) {
	if deadline.IsZero() {
		return
	}
	c.deadline = deadline
	c.remaining = c.remainingAt(c.clock.Now())
	c.running = c.remaining > 0
}

// Tick recomputes the remaining time from the deadline. It returns true exactly
// once, on the tick that reaches zero.
func (c *Countdown) Tick() bool {
	if !c.running {
		return false
	}
	c.remaining = c.remainingAt(c.clock.Now())
	if c.remaining > 0 {
		return false
	}
	c.running = false
	return true
}

// Stop halts the countdown and zeroes the display.
func (c *Countdown) Stop() {
	c.running = false
	c.remaining = 0
}

// Halt freezes the countdown without touching the remaining time.
func (c *Countdown) Halt() {
	c.running = false
}

func (c *Countdown) Remaining() int { return c.remaining }

func (c *Countdown) Running() bool { return c.running }

func (c *Countdown) Deadline() time.Time { return c.deadline }

func (c *Countdown) remainingAt(now time.Time) int {
	left := c.deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}
