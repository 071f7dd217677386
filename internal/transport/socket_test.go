package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimmy477/ripd/internal/rerrors"
)

func openEphemeral(t *testing.T, n int) ([]int, *SocketSet) {
	t.Helper()
	ports := make([]int, n)
	// Bind to port 0 (OS-assigned) n times to discover n free ports, then
	// reopen on those concrete ports: Open itself needs known ports because
	// SendTo targets must be addressable by the test.
	var probes []*SocketSet
	for i := 0; i < n; i++ {
		s, err := Open([]int{0})
		require.NoError(t, err)
		ports[i] = s.SendPort()
		probes = append(probes, s)
	}
	for _, p := range probes {
		p.Close()
	}

	set, err := Open(ports)
	require.NoError(t, err)
	return ports, set
}

func TestOpenBindsOneSocketPerInputPort(t *testing.T) {
	ports, set := openEphemeral(t, 3)
	defer set.Close()

	assert.Equal(t, ports, set.Ports())
	assert.Equal(t, ports[0], set.SendPort())
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	ports, set := openEphemeral(t, 2)
	defer set.Close()

	payload := []byte("hello-rip")
	done := make(chan struct{})
	var received []byte
	var recvErr error
	go func() {
		received, recvErr = set.ReceiveFrom(ports[1])
		close(done)
	}()

	require.NoError(t, set.SendTo(ports[1], payload))
	<-done

	require.NoError(t, recvErr)
	assert.Equal(t, payload, received)
}

func TestReceiveFromUnconfiguredPortFails(t *testing.T) {
	ports, set := openEphemeral(t, 1)
	defer set.Close()

	_, err := set.ReceiveFrom(ports[0] + 1)
	require.Error(t, err)
	var internalErr *rerrors.InternalError
	require.True(t, errors.As(err, &internalErr))
}

func TestOpenFailsOnDuplicatePort(t *testing.T) {
	ports, set := openEphemeral(t, 1)
	defer set.Close()

	_, err := Open([]int{ports[0]})
	require.Error(t, err)
	var bindErr *rerrors.BindError
	require.True(t, errors.As(err, &bindErr))
}

func TestCloseReleasesAllSockets(t *testing.T) {
	ports, set := openEphemeral(t, 2)
	set.Close()

	// Sockets are released: rebinding the same ports must now succeed.
	reopened, err := Open(ports)
	require.NoError(t, err)
	reopened.Close()
}
