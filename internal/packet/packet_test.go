package packet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimmy477/ripd/internal/protocol"
	"github.com/jimmy477/ripd/internal/rerrors"
)

func neighbours(ids ...uint16) map[uint16]struct{} {
	m := make(map[uint16]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	snapshot := []SnapshotEntry{
		{Destination: 2, Metric: 1, NextHop: 2},
		{Destination: 3, Metric: 2, NextHop: 2},
	}

	buf := Encode(1, snapshot, 2)
	raw, err := Decode(buf)
	require.NoError(t, err)

	got, err := Validate(raw, neighbours(2))
	require.NoError(t, err)

	assert.EqualValues(t, 1, got.SenderRouterID)
	require.Len(t, got.Entries, 2)
	// Destination 2's next hop is the receiving neighbour: poisoned reverse.
	assert.Equal(t, Entry{Destination: 2, Metric: protocol.MetricInfinity}, got.Entries[0])
	assert.Equal(t, Entry{Destination: 3, Metric: protocol.MetricInfinity}, got.Entries[1])
}

func TestEncodeNoPoisonForOtherNeighbour(t *testing.T) {
	snapshot := []SnapshotEntry{
		{Destination: 3, Metric: 2, NextHop: 2},
	}

	buf := Encode(1, snapshot, 99)
	raw, err := Decode(buf)
	require.NoError(t, err)

	got, err := Validate(raw, neighbours(99))
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, uint8(2), got.Entries[0].Metric)
}

func TestDecodeInvalidLength(t *testing.T) {
	_, err := Decode(make([]byte, protocol.HeaderLen+1))
	require.Error(t, err)
	var pe *rerrors.PacketError
	require.ErrorAs(t, err, &pe)
}

func TestDecodeEmptyPacketIsValidLength(t *testing.T) {
	raw, err := Decode(make([]byte, protocol.HeaderLen))
	require.NoError(t, err)
	assert.Empty(t, raw.Entries)
}

func TestValidateRejectsWrongCommand(t *testing.T) {
	buf := Encode(1, nil, 0)
	buf[0] = protocol.CommandRequest
	raw, err := Decode(buf)
	require.NoError(t, err)

	_, err = Validate(raw, neighbours(1))
	require.Error(t, err)
}

func TestValidateRejectsWrongVersion(t *testing.T) {
	buf := Encode(1, nil, 0)
	buf[1] = 1
	raw, err := Decode(buf)
	require.NoError(t, err)

	_, err = Validate(raw, neighbours(1))
	require.Error(t, err)
}

func TestValidateRejectsUnconfiguredSender(t *testing.T) {
	buf := Encode(42, nil, 0)
	raw, err := Decode(buf)
	require.NoError(t, err)

	_, err = Validate(raw, neighbours(1, 2))
	require.Error(t, err)
}

func TestValidateRejectsNonZeroMustBeZero(t *testing.T) {
	buf := Encode(1, []SnapshotEntry{{Destination: 2, Metric: 1, NextHop: 2}}, 0)
	// must-be-zero field of the first (only) entry.
	buf[protocol.HeaderLen+2] = 0xFF
	raw, err := Decode(buf)
	require.NoError(t, err)

	_, err = Validate(raw, neighbours(1))
	require.Error(t, err)
}

func TestValidateRejectsOutOfRangeDestination(t *testing.T) {
	buf := Encode(1, []SnapshotEntry{{Destination: 1, Metric: 1, NextHop: 1}}, 0)
	// Destination field spans buf[8:12]; force it past 64000.
	buf[10] = 0xFF
	buf[11] = 0xFF
	raw, err := Decode(buf)
	require.NoError(t, err)

	_, err = Validate(raw, neighbours(1))
	require.Error(t, err)
}

func TestEncodeDeterministic(t *testing.T) {
	snapshot := []SnapshotEntry{
		{Destination: 5, Metric: 3, NextHop: 2},
		{Destination: 9, Metric: 1, NextHop: 9},
	}
	a := Encode(1, snapshot, 2)
	b := Encode(1, snapshot, 2)
	assert.Equal(t, a, b)
}

// TestCodecFuzzRoundTrip exercises random 0-20 entry payloads (S6): any
// packet accepted by Decode round-trips through Validate with the entries
// it was built from, modulo poisoned reverse, which this test sidesteps by
// using a neighbour id that never matches a next hop.
func TestCodecFuzzRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		n := rng.Intn(21)
		snapshot := make([]SnapshotEntry, n)
		ids := make(map[uint16]struct{})
		for j := 0; j < n; j++ {
			dest := uint16(1 + rng.Intn(protocol.RouterIDMax))
			snapshot[j] = SnapshotEntry{
				Destination: dest,
				Metric:      uint8(1 + rng.Intn(protocol.MetricInfinity)),
				NextHop:     dest,
			}
		}
		sender := uint16(1 + rng.Intn(protocol.RouterIDMax))
		ids[sender] = struct{}{}

		buf := Encode(sender, snapshot, 0) // neighbour 0 never equals a router-id
		raw, err := Decode(buf)
		require.NoError(t, err)

		got, err := Validate(raw, ids)
		require.NoError(t, err)
		require.Len(t, got.Entries, n)
		for j, e := range got.Entries {
			assert.Equal(t, snapshot[j].Destination, e.Destination)
			assert.Equal(t, snapshot[j].Metric, e.Metric)
		}
	}
}

func TestCodecFuzzTruncatedFails(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		n := 1 + rng.Intn(5)
		full := protocol.HeaderLen + n*protocol.EntryLen
		truncated := full - 1 - rng.Intn(protocol.EntryLen-1)
		if truncated < 0 {
			continue
		}
		_, err := Decode(make([]byte, truncated))
		require.Error(t, err)
	}
}
