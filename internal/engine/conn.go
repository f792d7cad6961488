package engine

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/wiremaps/snmpbridge/internal/protocol"
)

// Conn is an open connection to one agent.
type Conn struct {
	fd     int
	peer   protocol.Peer
	addr   netip.AddrPort
	cb     protocol.Callback
	closed bool
}

// Fd returns the socket descriptor.
func (c *Conn) Fd() int { return c.fd }

// Addr returns the resolved agent address.
func (c *Conn) Addr() netip.AddrPort { return c.addr }

// Peer returns the peer the connection was opened for.
func (c *Conn) Peer() protocol.Peer { return c.peer }

// Closed reports whether Close was called.
func (c *Conn) Closed() bool { return c.closed }

func (c *Conn) String() string {
	return fmt.Sprintf("%s/fd%d", c.addr, c.fd)
}

// resolve turns host, host:port or [v6]:port into an address, defaulting
// to port 161.
func resolve(host string) (netip.AddrPort, error) {
	if host == "" {
		return netip.AddrPort{}, fmt.Errorf("empty peer address")
	}

	hostport := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		bare := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
		hostport = net.JoinHostPort(bare, strconv.Itoa(DefaultPort))
	}

	ua, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	ap := ua.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
