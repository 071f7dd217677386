// Package daemon implements the event loop (C6): it owns the socket set,
// the route processor, and the timer service for one router's lifetime,
// multiplexing readable sockets and scheduled timer/periodic work onto a
// single goroutine so every table mutation is serialised.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jimmy477/ripd/internal/packet"
	"github.com/jimmy477/ripd/internal/protocol"
	"github.com/jimmy477/ripd/internal/router"
	"github.com/jimmy477/ripd/internal/table"
	"github.com/jimmy477/ripd/internal/timer"
	"github.com/jimmy477/ripd/internal/transport"
)

// Neighbour mirrors router.Neighbour; kept separate so callers configuring
// a Daemon don't need to import internal/router directly.
type Neighbour = router.Neighbour

// Config is everything the event loop needs to run one router.
type Config struct {
	LocalRouterID uint16
	InputPorts    []int
	Neighbours    []Neighbour
	Period        time.Duration
	Timeout       time.Duration
	Garbage       time.Duration
}

// Daemon owns the socket set, routing table, timer service and route
// processor for one router, and runs the single-goroutine event loop that
// serialises every mutation against them.
type Daemon struct {
	cfg    Config
	log    *zap.SugaredLogger
	sock   *transport.SocketSet
	table  *table.Table
	timers *timer.Service
	proc   *router.Processor
	recv   chan transport.Datagram
}

// New binds the socket set and wires the routing table, timer service and
// route processor together. Binding failure is fatal (§4.2) and surfaces
// as a *rerrors.BindError.
func New(cfg Config, log *zap.SugaredLogger) (*Daemon, error) {
	sock, err := transport.Open(cfg.InputPorts)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:    cfg,
		log:    log,
		sock:   sock,
		table:  table.New(cfg.LocalRouterID),
		timers: timer.New(),
		recv:   make(chan transport.Datagram, 64),
	}
	d.proc = router.New(
		cfg.LocalRouterID,
		cfg.Neighbours,
		d.table,
		d.timers,
		cfg.Timeout,
		cfg.Garbage,
		triggerInterval(cfg.Period),
		d.sendAdvertisements,
	)
	return d, nil
}

// triggerInterval derives the fixed rate-limiting window for the trigger
// gate from the configured period, clamped to the range §4.5 requires.
func triggerInterval(period time.Duration) time.Duration {
	interval := period / 10
	if interval < protocol.TriggerRateMin {
		return protocol.TriggerRateMin
	}
	if interval > protocol.TriggerRateMax {
		return protocol.TriggerRateMax
	}
	return interval
}

// Run enters RUNNING: it sends the bootstrap advertisement, starts the
// periodic timer, starts one receive goroutine per input socket, and then
// drains datagrams and timer events on a single central loop until ctx is
// canceled. Every error returned by a sub-goroutine stops the group and is
// returned from Run; a canceled context is not itself an error.
func (d *Daemon) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	// Closing the sockets is what unblocks the receive goroutines' ReadFrom
	// once ctx is done, whether by cancellation or by another goroutine's error.
	context.AfterFunc(ctx, d.sock.Close)

	d.log.Infow("router starting", "router_id", d.cfg.LocalRouterID, "input_ports", d.cfg.InputPorts)
	d.sendAdvertisements(d.proc.BuildAdvertisements())
	d.proc.NotePeriodicSend()
	d.timers.StartPeriodic(d.cfg.Period)

	for _, port := range d.sock.Ports() {
		port := port
		group.Go(func() error {
			return d.receiveLoop(ctx, port)
		})
	}

	group.Go(func() error {
		return d.centralLoop(ctx)
	})

	err := group.Wait()
	d.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// receiveLoop blocks on one socket's ReadFrom, forwarding each datagram to
// the central loop. A transport-level read error is logged and the loop
// continues; it does not tear down the daemon (§7: TransportError is local
// and recoverable).
func (d *Daemon) receiveLoop(ctx context.Context, port int) error {
	for {
		payload, err := d.sock.ReceiveFrom(port)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			d.log.Warnw("receive error", "port", port, "error", err)
			continue
		}

		select {
		case d.recv <- transport.Datagram{Port: port, Payload: payload}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// centralLoop is the single goroutine that ever mutates the routing table,
// satisfying §5's serialisation requirement via channel ownership instead
// of a mutex.
func (d *Daemon) centralLoop(ctx context.Context) error {
	neighbourIDs := d.proc.NeighbourIDs()
	events := d.timers.Events()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case dg := <-d.recv:
			if err := d.handleDatagram(dg, neighbourIDs); err != nil {
				d.log.Errorw("fatal table invariant violation", "error", err)
				return err
			}

		case ev := <-events:
			if err := d.handleTimerEvent(ev); err != nil {
				d.log.Errorw("fatal table invariant violation", "error", err)
				return err
			}
		}
	}
}

// handleDatagram decodes and validates one received packet and applies it
// to the route processor. A non-nil error is always a *rerrors.InternalError
// (§7): decode/validate failures are logged and dropped here, never
// propagated, since a malformed peer packet is not the local router's fault.
func (d *Daemon) handleDatagram(dg transport.Datagram, neighbourIDs map[uint16]struct{}) error {
	raw, err := packet.Decode(dg.Payload)
	if err != nil {
		d.log.Debugw("dropped malformed packet", "port", dg.Port, "error", err)
		return nil
	}

	pkt, err := packet.Validate(raw, neighbourIDs)
	if err != nil {
		d.log.Debugw("dropped invalid packet", "port", dg.Port, "error", err)
		return nil
	}

	return d.proc.HandleAdvertisement(pkt.SenderRouterID, pkt.Entries)
}

func (d *Daemon) handleTimerEvent(ev timer.Event) error {
	switch ev.Kind {
	case timer.KindTimeout:
		return d.proc.HandleTimeoutExpiry(ev.Destination)
	case timer.KindGarbage:
		d.proc.HandleGarbageExpiry(ev.Destination)
	case timer.KindPeriodic:
		d.sendAdvertisements(d.proc.BuildAdvertisements())
		d.proc.NotePeriodicSend()
	}
	return nil
}

// sendAdvertisements emits every built advertisement over the send socket.
// A send failure is logged and does not abort the remaining sends; a
// neighbour temporarily unreachable at the OS level does not stop progress
// for the others.
func (d *Daemon) sendAdvertisements(ads []router.Advertisement) {
	for _, ad := range ads {
		if err := d.sock.SendTo(ad.Port, ad.Payload); err != nil {
			d.log.Warnw("send error", "port", ad.Port, "error", err)
		}
	}
}

func (d *Daemon) shutdown() {
	d.timers.Close()
	d.sock.Close()
	d.log.Infow("router stopped", "router_id", d.cfg.LocalRouterID)
}
