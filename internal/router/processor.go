// Package router implements the route processor (C5): applying
// Bellman-Ford-style updates from validated advertisements, maintaining
// the direct-link refresh for configured neighbours, and gating triggered
// updates through the rate-limited coalescing gate.
package router

import (
	"time"

	"github.com/jimmy477/ripd/internal/packet"
	"github.com/jimmy477/ripd/internal/protocol"
	"github.com/jimmy477/ripd/internal/table"
	"github.com/jimmy477/ripd/internal/timer"
	"github.com/jimmy477/ripd/internal/trigger"
)

// Neighbour is a configured output: the port to reach it on, the direct
// metric to it, and its router-id.
type Neighbour struct {
	Port         int
	DirectMetric uint8
	RouterID     uint16
}

// Advertisement is one encoded packet ready to send to one neighbour.
type Advertisement struct {
	Port    int
	Payload []byte
}

// Processor owns the routing table, timer service and trigger gate for one
// router, and implements the install rules from §4.5.
type Processor struct {
	localRouterID uint16
	neighbours    map[uint16]Neighbour
	order         []Neighbour // configured order, for deterministic emission (§5)

	table   *table.Table
	timers  *timer.Service
	gate    *trigger.Gate
	timeout time.Duration
	garbage time.Duration
}

// New builds a Processor. sendTriggered is invoked (via the trigger gate)
// whenever a coalesced triggered update is due; the caller supplies it so
// the processor need not know how packets actually reach the wire.
func New(
	localRouterID uint16,
	neighbours []Neighbour,
	tbl *table.Table,
	timers *timer.Service,
	timeout, garbage, triggerInterval time.Duration,
	sendTriggered func([]Advertisement),
) *Processor {
	p := &Processor{
		localRouterID: localRouterID,
		neighbours:    make(map[uint16]Neighbour, len(neighbours)),
		order:         append([]Neighbour(nil), neighbours...),
		table:         tbl,
		timers:        timers,
		timeout:       timeout,
		garbage:       garbage,
	}
	for _, n := range neighbours {
		p.neighbours[n.RouterID] = n
	}
	p.gate = trigger.New(triggerInterval, func() {
		sendTriggered(p.BuildAdvertisements())
	})
	return p
}

// NeighbourIDs returns the set of configured neighbour router-ids, for the
// codec's sender validation.
func (p *Processor) NeighbourIDs() map[uint16]struct{} {
	ids := make(map[uint16]struct{}, len(p.neighbours))
	for id := range p.neighbours {
		ids[id] = struct{}{}
	}
	return ids
}

// HandleAdvertisement applies a validated response from sender per §4.5:
// the direct-link refresh, then the per-entry Bellman-Ford install rules.
// A non-nil error is always a *rerrors.InternalError surfaced from the
// routing table and is fatal to the caller (§7): an invariant was violated.
func (p *Processor) HandleAdvertisement(sender uint16, entries []packet.Entry) error {
	neighbour, isNeighbour := p.neighbours[sender]
	if !isNeighbour {
		// packet.Validate already rejects unconfigured senders; defensive.
		return nil
	}

	if err := p.refreshDirectLink(neighbour); err != nil {
		return err
	}

	for _, e := range entries {
		if e.Destination == p.localRouterID {
			continue
		}
		if err := p.applyEntry(neighbour, e); err != nil {
			return err
		}
	}
	return nil
}

// refreshDirectLink implements §4.5 bullet 1: on any validated response
// from a configured neighbour, ensure its direct route is installed (or
// refreshed) at min(direct metric, existing metric), next hop S.
func (p *Processor) refreshDirectLink(n Neighbour) error {
	metric := n.DirectMetric
	if cur, ok := p.table.Get(n.RouterID); ok && cur.Metric < metric {
		metric = cur.Metric
	}

	deadline := time.Now().Add(p.timeout)
	if err := p.table.Upsert(n.RouterID, metric, n.RouterID, deadline); err != nil {
		return err
	}
	p.timers.ArmTimeout(n.RouterID, p.timeout)
	return nil
}

// applyEntry implements the install rule set of §4.5 bullet 2 for one
// advertised (destination, metric) pair from sender (via neighbour n).
func (p *Processor) applyEntry(n Neighbour, e packet.Entry) error {
	newMetric := clampMetric(int(e.Metric) + int(n.DirectMetric))

	cur, exists := p.table.Get(e.Destination)

	switch {
	case !exists:
		if newMetric >= protocol.MetricInfinity {
			return nil // never install a fresh route as unreachable (Open Question a)
		}
		return p.install(e.Destination, newMetric, n.RouterID)

	case cur.NextHop == n.RouterID:
		if newMetric != cur.Metric {
			return p.replace(e.Destination, newMetric, n.RouterID, cur.Metric)
		}
		p.timers.ArmTimeout(e.Destination, p.timeout)

	case newMetric < cur.Metric:
		return p.install(e.Destination, newMetric, n.RouterID)

	default:
		// Worse or equal metric via a different next hop: ignore.
	}
	return nil
}

func (p *Processor) install(dest uint16, metric uint8, nextHop uint16) error {
	deadline := time.Now().Add(p.timeout)
	if err := p.table.Upsert(dest, metric, nextHop, deadline); err != nil {
		return err
	}
	p.timers.ArmTimeout(dest, p.timeout)
	return nil
}

func (p *Processor) replace(dest uint16, newMetric uint8, nextHop uint16, oldMetric uint8) error {
	deadline := time.Now().Add(p.timeout)
	if err := p.table.Upsert(dest, newMetric, nextHop, deadline); err != nil {
		return err
	}

	if newMetric == protocol.MetricInfinity && oldMetric < protocol.MetricInfinity {
		if err := p.table.MarkUnreachable(dest, time.Now().Add(p.garbage)); err != nil {
			return err
		}
		p.timers.ArmGarbage(dest, p.garbage)
		p.gate.Request()
		return nil
	}
	p.timers.ArmTimeout(dest, p.timeout)
	return nil
}

// HandleTimeoutExpiry implements §4.4 timer kind 2: the route becomes
// unreachable, a garbage timer is armed, and a triggered update queued.
func (p *Processor) HandleTimeoutExpiry(dest uint16) error {
	if err := p.table.MarkUnreachable(dest, time.Now().Add(p.garbage)); err != nil {
		return err
	}
	p.timers.ArmGarbage(dest, p.garbage)
	p.gate.Request()
	return nil
}

// HandleGarbageExpiry implements §4.4 timer kind 3: unconditional removal.
func (p *Processor) HandleGarbageExpiry(dest uint16) {
	p.table.Remove(dest)
}

// BuildAdvertisements encodes the current table snapshot for every
// configured neighbour, applying split horizon with poisoned reverse, in
// configured neighbour order (§5 ordering guarantee).
func (p *Processor) BuildAdvertisements() []Advertisement {
	snap := p.table.Snapshot()
	entries := make([]packet.SnapshotEntry, len(snap))
	for i, e := range snap {
		entries[i] = packet.SnapshotEntry{Destination: e.Destination, Metric: e.Metric, NextHop: e.NextHop}
	}

	ads := make([]Advertisement, len(p.order))
	for i, n := range p.order {
		ads[i] = Advertisement{
			Port:    n.Port,
			Payload: packet.Encode(p.localRouterID, entries, n.RouterID),
		}
	}
	return ads
}

// NotePeriodicSend tells the trigger gate that a full periodic
// advertisement was just emitted, resetting its rate window, and clears
// every entry's Changed flag now that a full advertisement has carried
// its current state (§3).
func (p *Processor) NotePeriodicSend() {
	p.gate.NotePeriodicSend()
	for _, e := range p.table.Snapshot() {
		p.table.ClearChanged(e.Destination)
	}
}

func clampMetric(m int) uint8 {
	if m > protocol.MetricInfinity {
		return protocol.MetricInfinity
	}
	return uint8(m)
}
