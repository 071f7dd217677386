// Package table implements the routing table (C3): the map from destination
// router-id to its current route, with the invariants the rest of the
// daemon relies on enforced at every mutation point.
package table

import (
	"sort"
	"sync"
	"time"

	"github.com/jimmy477/ripd/internal/protocol"
	"github.com/jimmy477/ripd/internal/rerrors"
)

// RouteEntry is one row of the routing table.
type RouteEntry struct {
	Destination     uint16
	Metric          uint8
	NextHop         uint16
	TimeoutDeadline time.Time
	GarbageDeadline time.Time // zero value means "absent"
	Changed         bool      // set since the last full periodic advertisement
}

// Unreachable reports whether the entry currently carries infinity metric.
func (e RouteEntry) Unreachable() bool {
	return e.Metric == protocol.MetricInfinity
}

// HasGarbageDeadline reports whether a garbage-collection timer is armed.
func (e RouteEntry) HasGarbageDeadline() bool {
	return !e.GarbageDeadline.IsZero()
}

// Table is the routing table for one router. It is safe for concurrent use,
// though the daemon's event-loop discipline (§5) means in practice only one
// goroutine ever calls its mutating methods at a time; the mutex exists to
// make that safe by construction rather than by convention, and to let the
// encoder read a snapshot without coordinating with the event loop.
type Table struct {
	mu            sync.RWMutex
	localRouterID uint16
	entries       map[uint16]*RouteEntry
}

// New creates an empty routing table for localRouterID. The table never
// contains an entry keyed by localRouterID (invariant I3).
func New(localRouterID uint16) *Table {
	return &Table{
		localRouterID: localRouterID,
		entries:       make(map[uint16]*RouteEntry),
	}
}

// Get returns a copy of the entry for dest, if present.
func (t *Table) Get(dest uint16) (RouteEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[dest]
	if !ok {
		return RouteEntry{}, false
	}
	return *e, true
}

// Upsert installs or overwrites the entry for dest with the given metric and
// next hop, re-arming its timeout to timeoutDeadline. It clears any garbage
// deadline (a viable route is no longer in the garbage-collection phase) and
// marks the entry changed.
func (t *Table) Upsert(dest uint16, metric uint8, nextHop uint16, timeoutDeadline time.Time) error {
	if err := t.checkInvariants(dest, metric); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[dest] = &RouteEntry{
		Destination:     dest,
		Metric:          metric,
		NextHop:         nextHop,
		TimeoutDeadline: timeoutDeadline,
		Changed:         true,
	}
	return nil
}

// MarkUnreachable sets dest's metric to infinity and arms its garbage
// deadline. The entry must already exist; callers (the timer service, the
// route processor) are responsible for that invariant.
func (t *Table) MarkUnreachable(dest uint16, garbageDeadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[dest]
	if !ok {
		return &rerrors.InternalError{Component: "table", Message: "mark-unreachable on missing destination"}
	}
	e.Metric = protocol.MetricInfinity
	e.GarbageDeadline = garbageDeadline
	e.TimeoutDeadline = time.Time{}
	e.Changed = true
	return nil
}

// Remove unconditionally deletes dest's entry. Only the timer service calls
// this, at garbage expiry.
func (t *Table) Remove(dest uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, dest)
}

// ClearChanged resets the changed flag for dest, called after a full
// periodic advertisement has carried its current state.
func (t *Table) ClearChanged(dest uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[dest]; ok {
		e.Changed = false
	}
}

// Snapshot returns a defensive copy of every entry, ordered by destination
// so repeated snapshots of an unchanged table are byte-for-byte identical
// once encoded (R2, R3).
func (t *Table) Snapshot() []RouteEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RouteEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// checkInvariants enforces I1 (metric range) and I3 (no local destination)
// ahead of a mutation that would otherwise violate them. A violation here
// means a caller bug upstream of the table, not a bad packet — packets are
// already range-checked by the codec — so it is reported as InternalError
// per §7 and the daemon shuts down rather than continue from state it can't
// trust.
func (t *Table) checkInvariants(dest uint16, metric uint8) error {
	if dest == t.localRouterID {
		return &rerrors.InternalError{Component: "table", Message: "refusing to install a route to the local router"}
	}
	if metric < protocol.MetricMin || metric > protocol.MetricInfinity {
		return &rerrors.InternalError{Component: "table", Message: "metric out of range"}
	}
	return nil
}
