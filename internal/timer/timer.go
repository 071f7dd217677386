// Package timer implements the timer service (C4): the periodic update
// timer with per-cycle jitter, and the per-destination timeout/garbage
// timers, with race-safe cancellation.
//
// Cancellation is realized with a per-destination, per-kind epoch counter
// rather than relying on time.Timer.Stop()'s best-effort semantics: arming a
// timer bumps its epoch, and a fired timer only emits an event if its
// captured epoch still matches the current one. A timer that loses this
// race (it had already fired when Cancel or a re-arm ran) simply emits
// nothing — "re-check existence on fire" from the concurrency design.
package timer

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jimmy477/ripd/internal/protocol"
)

// Kind identifies which timer produced an Event.
type Kind int

const (
	KindTimeout Kind = iota
	KindGarbage
	KindPeriodic
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindGarbage:
		return "garbage"
	case KindPeriodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// Event is emitted on the Service's event channel when a timer fires.
// Destination is zero for KindPeriodic.
type Event struct {
	Kind        Kind
	Destination uint16
}

type destState struct {
	timeoutEpoch uint64
	garbageEpoch uint64
}

// Service owns every timer for one router: the periodic update timer and
// one timeout/garbage pair per destination.
type Service struct {
	mu     sync.Mutex
	states map[uint16]*destState

	events chan Event
	done   chan struct{}
	closed bool

	periodicStop chan struct{}
	periodicWG   sync.WaitGroup
}

// New creates a Service. Callers drain Events() from the daemon's central
// loop; Close stops the periodic timer and prevents any further event from
// being delivered.
func New() *Service {
	return &Service{
		states: make(map[uint16]*destState),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

// Events returns the channel timer firings are delivered on.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Close stops the periodic timer (if running) and stops delivering events.
// Per-destination timers that are already in flight simply find the done
// channel closed and discard their firing.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.StopPeriodic()
	close(s.done)
}

func (s *Service) stateFor(dest uint16) *destState {
	st, ok := s.states[dest]
	if !ok {
		st = &destState{}
		s.states[dest] = st
	}
	return st
}

// ArmTimeout (re-)arms the timeout timer for dest, duration d from now.
// Per §4.4, arming a new timeout cancels both any prior timeout and any
// prior garbage timer for dest.
func (s *Service) ArmTimeout(dest uint16, d time.Duration) {
	s.mu.Lock()
	st := s.stateFor(dest)
	st.garbageEpoch++
	st.timeoutEpoch++
	epoch := st.timeoutEpoch
	s.mu.Unlock()

	time.AfterFunc(d, func() { s.fire(dest, KindTimeout, epoch) })
}

// ArmGarbage (re-)arms the garbage-collection timer for dest, duration d
// from now. Arming a garbage timer also cancels any pending timeout for
// dest, since a route under garbage collection is not also awaiting
// refresh.
func (s *Service) ArmGarbage(dest uint16, d time.Duration) {
	s.mu.Lock()
	st := s.stateFor(dest)
	st.timeoutEpoch++
	st.garbageEpoch++
	epoch := st.garbageEpoch
	s.mu.Unlock()

	time.AfterFunc(d, func() { s.fire(dest, KindGarbage, epoch) })
}

// Cancel invalidates any pending timeout and garbage timer for dest without
// arming a replacement.
func (s *Service) Cancel(dest uint16) {
	s.mu.Lock()
	if st, ok := s.states[dest]; ok {
		st.timeoutEpoch++
		st.garbageEpoch++
	}
	s.mu.Unlock()
}

func (s *Service) fire(dest uint16, kind Kind, epoch uint64) {
	s.mu.Lock()
	st, ok := s.states[dest]
	current := ok && !s.closed
	if current {
		switch kind {
		case KindTimeout:
			current = st.timeoutEpoch == epoch
		case KindGarbage:
			current = st.garbageEpoch == epoch
		}
	}
	s.mu.Unlock()

	if !current {
		return
	}

	select {
	case s.events <- Event{Kind: kind, Destination: dest}:
	case <-s.done:
	}
}

// StartPeriodic starts the periodic update timer: it fires every
// period * U(0.8, 1.2) seconds, drawing fresh jitter each cycle, until
// StopPeriodic or Close is called.
func (s *Service) StartPeriodic(period time.Duration) {
	s.mu.Lock()
	if s.periodicStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.periodicStop = stop
	s.mu.Unlock()

	s.periodicWG.Add(1)
	go s.periodicLoop(period, stop)
}

func (s *Service) periodicLoop(period time.Duration, stop chan struct{}) {
	defer s.periodicWG.Done()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		t := time.NewTimer(jitter(rng, period))
		select {
		case <-t.C:
			select {
			case s.events <- Event{Kind: KindPeriodic}:
			case <-s.done:
				return
			case <-stop:
				return
			}
		case <-stop:
			t.Stop()
			return
		case <-s.done:
			t.Stop()
			return
		}
	}
}

// StopPeriodic stops the periodic update timer if one is running.
func (s *Service) StopPeriodic() {
	s.mu.Lock()
	stop := s.periodicStop
	s.periodicStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		s.periodicWG.Wait()
	}
}

// jitter draws a duration uniformly from [low*period, high*period].
func jitter(rng *rand.Rand, period time.Duration) time.Duration {
	span := protocol.PeriodicJitterHigh - protocol.PeriodicJitterLow
	factor := protocol.PeriodicJitterLow + rng.Float64()*span
	return time.Duration(float64(period) * factor)
}
