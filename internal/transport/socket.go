// Package transport implements the socket set (C2): one unconnected UDP
// socket per configured input port, bound to 127.0.0.1, with the first
// input socket designated as the send socket for all outbound packets.
package transport

import (
	"fmt"
	"net"
	"strconv"

	"github.com/jimmy477/ripd/internal/rerrors"
)

// maxReceiveLen bounds a single receive buffer. It must be at least
// protocol.HeaderLen + the largest number of entries the daemon will ever
// build, with headroom for a malformed oversized datagram so Decode sees
// it and rejects it on length rather than truncating it silently.
const maxReceiveLen = 2048

// Datagram is one received packet paired with the input port it arrived
// on. The port does not identify the sending peer; the sender's router-id
// comes from the packet header.
type Datagram struct {
	Port    int
	Payload []byte
}

// SocketSet owns one bound *net.UDPConn per configured input port, plus the
// designation of which of them is the send socket.
type SocketSet struct {
	conns    map[int]*net.UDPConn
	order    []int // input ports in configured order
	sendFD   *net.UDPConn
	sendPort int
}

// Open binds one loopback UDP socket per port in inputPorts, in order. The
// first port's socket becomes the send socket. Binding failure on any port
// is fatal: every socket opened so far is closed before returning.
func Open(inputPorts []int) (*SocketSet, error) {
	set := &SocketSet{
		conns: make(map[int]*net.UDPConn, len(inputPorts)),
	}

	for _, port := range inputPorts {
		addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
		conn, err := net.ListenUDP("udp4", addr)
		if err != nil {
			set.Close()
			return nil, &rerrors.BindError{Port: port, Err: err}
		}
		if err := setSocketOptions(conn); err != nil {
			_ = conn.Close()
			set.Close()
			return nil, &rerrors.BindError{Port: port, Err: err}
		}
		// Port 0 asks the OS for an ephemeral port (used by tests only;
		// real configs always supply a concrete port); record the port
		// actually bound, not the request.
		actual := conn.LocalAddr().(*net.UDPAddr).Port
		set.conns[actual] = conn
		set.order = append(set.order, actual)
	}

	set.sendPort = set.order[0]
	set.sendFD = set.conns[set.sendPort]
	return set, nil
}

// SendPort returns the port whose socket is used for every outbound send,
// i.e. the source port a peer observes on every datagram from this router.
func (s *SocketSet) SendPort() int {
	return s.sendPort
}

// SendTo transmits payload to 127.0.0.1:port using the designated send
// socket.
func (s *SocketSet) SendTo(port int, payload []byte) error {
	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	n, err := s.sendFD.WriteToUDP(payload, dest)
	if err != nil {
		return &rerrors.TransportError{Op: fmt.Sprintf("send to 127.0.0.1:%d", port), Err: err}
	}
	if n != len(payload) {
		return &rerrors.TransportError{Op: "send", Err: fmt.Errorf("partial write: %d/%d bytes", n, len(payload))}
	}
	return nil
}

// ReceiveFrom blocks on a single input socket's ReadFrom until a datagram
// arrives, returning it alongside any transport-level error. The caller is
// expected to run one ReceiveFrom loop per port concurrently; see
// internal/daemon for how results are fanned into a single channel.
func (s *SocketSet) ReceiveFrom(port int) ([]byte, error) {
	conn, ok := s.conns[port]
	if !ok {
		return nil, &rerrors.InternalError{Component: "transport", Message: "receive on unconfigured port " + strconv.Itoa(port)}
	}

	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr)
	buf := *bufPtr

	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, &rerrors.TransportError{Op: fmt.Sprintf("receive on port %d", port), Err: err}
	}

	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

// Ports returns the configured input ports, in configured order.
func (s *SocketSet) Ports() []int {
	return append([]int(nil), s.order...)
}

// Close releases every socket in the set. Safe to call more than once and
// on a partially-opened set.
func (s *SocketSet) Close() {
	for _, conn := range s.conns {
		_ = conn.Close()
	}
}
