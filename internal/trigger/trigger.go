// Package trigger implements the triggered-update gate from §4.5: a rate
// limiter plus a single pending flag that coalesces any number of
// metric-16 transitions arriving within the rate window into one send.
package trigger

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate decides when a triggered advertisement may actually be sent. Request
// is called once per qualifying transition (§4.5 bullet 3); fire is invoked
// at most once per rate window no matter how many times Request was called
// during it, and is always invoked with the table state as of the moment it
// runs (the caller's fire closure should read current state fresh, not
// capture it at Request time) so coalesced transitions are represented by
// a single, up to date send.
type Gate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	pending *time.Timer
	fire    func()
}

// New creates a Gate enforcing at most one send per interval (§4.5 bullet 3
// requires this window to lie between protocol.TriggerRateMin and
// protocol.TriggerRateMax). fire is invoked from an internal goroutine when
// a coalesced send is due.
func New(interval time.Duration, fire func()) *Gate {
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		fire:    fire,
	}
}

// Request asks the gate to send a triggered update. If the rate window has
// already elapsed, fire runs immediately (on the caller's goroutine). If
// not, and no send is already pending, a timer is scheduled for when the
// window reopens; further calls to Request before that timer fires are
// no-ops, satisfying the single pending-flag coalescing requirement.
func (g *Gate) Request() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending != nil {
		return
	}

	r := g.limiter.Reserve()
	if !r.OK() {
		return
	}

	delay := r.Delay()
	if delay <= 0 {
		g.fire()
		return
	}

	g.pending = time.AfterFunc(delay, func() {
		g.mu.Lock()
		g.pending = nil
		g.mu.Unlock()
		g.fire()
	})
}

// NotePeriodicSend records that a full periodic advertisement was just
// emitted, so the rate window for the next triggered update starts from
// now (§4.5 bullet 3: "from the previous triggered or periodic send"), and
// cancels any pending coalesced triggered send since the periodic send
// already carried the current table state.
func (g *Gate) NotePeriodicSend() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.limiter.ReserveN(time.Now(), 1)
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}

// Stop cancels any pending coalesced send. Safe to call even if none is
// pending.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}
