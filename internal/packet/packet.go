// Package packet implements the RIPv2-style wire codec: encoding an
// outgoing advertisement from a routing-table snapshot (with split horizon
// and poisoned reverse applied per neighbour), and decoding/validating an
// incoming datagram before it reaches the route processor.
package packet

import (
	"encoding/binary"

	"github.com/jimmy477/ripd/internal/protocol"
	"github.com/jimmy477/ripd/internal/rerrors"
)

// RawHeader is the 4-byte packet header as read off the wire, before any
// semantic validation.
type RawHeader struct {
	Command        uint8
	Version        uint8
	SenderRouterID uint16
}

// RawEntry is one 20-byte route entry as read off the wire, before any
// semantic validation. The must-be-zero and zero fields are kept so
// Validate can reject packets that don't honour them; callers never see
// them again once validation succeeds.
type RawEntry struct {
	AFI         uint16
	MustBeZero  uint16
	Destination uint32
	Zero1       uint32
	Zero2       uint32
	Metric      uint32
}

// RawPacket is the structural (length-checked) decode of a datagram.
type RawPacket struct {
	Header  RawHeader
	Entries []RawEntry
}

// Entry is one validated, usable route advertisement.
type Entry struct {
	Destination uint16
	Metric      uint8
}

// Packet is a decoded and validated response packet, ready for the route
// processor.
type Packet struct {
	SenderRouterID uint16
	Entries        []Entry
}

// SnapshotEntry is the minimal shape Encode needs from a routing-table
// snapshot: enough to apply split horizon with poisoned reverse without the
// codec depending on the table package's full RouteEntry type.
type SnapshotEntry struct {
	Destination uint16
	Metric      uint8
	NextHop     uint16
}

// Decode parses a datagram's structure: a 4-byte header followed by zero or
// more 20-byte route entries. It performs no semantic validation — that is
// Validate's job — only the length check required to interpret the bytes
// at all.
func Decode(buf []byte) (*RawPacket, error) {
	if len(buf) < protocol.HeaderLen || (len(buf)-protocol.HeaderLen)%protocol.EntryLen != 0 {
		return nil, &rerrors.PacketError{Reason: "invalid length"}
	}

	raw := &RawPacket{
		Header: RawHeader{
			Command:        buf[0],
			Version:        buf[1],
			SenderRouterID: binary.BigEndian.Uint16(buf[2:4]),
		},
	}

	n := (len(buf) - protocol.HeaderLen) / protocol.EntryLen
	raw.Entries = make([]RawEntry, n)
	for i := 0; i < n; i++ {
		off := protocol.HeaderLen + i*protocol.EntryLen
		e := buf[off : off+protocol.EntryLen]
		raw.Entries[i] = RawEntry{
			AFI:         binary.BigEndian.Uint16(e[0:2]),
			MustBeZero:  binary.BigEndian.Uint16(e[2:4]),
			Destination: binary.BigEndian.Uint32(e[4:8]),
			Zero1:       binary.BigEndian.Uint32(e[8:12]),
			Zero2:       binary.BigEndian.Uint32(e[12:16]),
			Metric:      binary.BigEndian.Uint32(e[16:20]),
		}
	}
	return raw, nil
}

// Validate applies the semantic checks from the wire-format spec to a
// structurally decoded packet, given the set of configured neighbour
// router-ids. On success it returns the cleaned-up Packet the route
// processor consumes; on failure it returns a *rerrors.PacketError
// describing which rule was violated, and the caller must drop the
// datagram without side effects.
func Validate(raw *RawPacket, neighbourIDs map[uint16]struct{}) (*Packet, error) {
	if raw.Header.Command != protocol.CommandResponse {
		return nil, &rerrors.PacketError{Reason: "not a response packet"}
	}
	if raw.Header.Version != protocol.Version {
		return nil, &rerrors.PacketError{Reason: "unsupported version"}
	}
	if !protocol.ValidRouterID(int(raw.Header.SenderRouterID)) {
		return nil, &rerrors.PacketError{Reason: "sender router-id out of range"}
	}
	if _, ok := neighbourIDs[raw.Header.SenderRouterID]; !ok {
		return nil, &rerrors.PacketError{Reason: "sender is not a configured neighbour"}
	}

	entries := make([]Entry, len(raw.Entries))
	for i, re := range raw.Entries {
		if re.AFI != protocol.AFI {
			return nil, &rerrors.PacketError{Reason: "unexpected address family"}
		}
		if re.MustBeZero != 0 || re.Zero1 != 0 || re.Zero2 != 0 {
			return nil, &rerrors.PacketError{Reason: "must-be-zero field set"}
		}
		if re.Destination < protocol.RouterIDMin || re.Destination > protocol.RouterIDMax {
			return nil, &rerrors.PacketError{Reason: "destination router-id out of range"}
		}
		if re.Metric > protocol.MetricInfinity {
			return nil, &rerrors.PacketError{Reason: "metric out of range"}
		}
		entries[i] = Entry{
			Destination: uint16(re.Destination),
			Metric:      uint8(re.Metric),
		}
	}

	return &Packet{
		SenderRouterID: raw.Header.SenderRouterID,
		Entries:        entries,
	}, nil
}

// Encode builds a response packet (command=2, version=2) advertising the
// given snapshot to neighbour. Split horizon with poisoned reverse is
// applied: any entry whose next hop is neighbour is sent with metric 16
// regardless of its true metric.
func Encode(localRouterID uint16, snapshot []SnapshotEntry, neighbour uint16) []byte {
	buf := make([]byte, protocol.HeaderLen+len(snapshot)*protocol.EntryLen)

	buf[0] = protocol.CommandResponse
	buf[1] = protocol.Version
	binary.BigEndian.PutUint16(buf[2:4], localRouterID)

	for i, s := range snapshot {
		off := protocol.HeaderLen + i*protocol.EntryLen
		e := buf[off : off+protocol.EntryLen]

		metric := s.Metric
		if s.NextHop == neighbour {
			metric = protocol.MetricInfinity
		}

		binary.BigEndian.PutUint16(e[0:2], protocol.AFI)
		// e[2:4] must-be-zero, e[8:12] and e[12:16] zero: already zero-valued.
		binary.BigEndian.PutUint32(e[4:8], uint32(s.Destination))
		binary.BigEndian.PutUint32(e[16:20], uint32(metric))
	}

	return buf
}
