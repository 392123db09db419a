package transport

import (
	"fmt"
	"net"
	"net/netip"
)

// Link is a datagram socket. It is used by exactly one Worker.
type Link interface {
	ReadFrom(p []byte) (int, netip.AddrPort, error)
	WriteTo(p []byte, addr netip.AddrPort) (int, error)
	LocalAddr() netip.AddrPort
	Close() error
}

// BindFunc opens a Link on the given local address. A zero address binds an
// ephemeral port on all interfaces.
type BindFunc func(addr netip.AddrPort) (Link, error)

type udpLink struct {
	conn *net.UDPConn
}

// ListenUDP is the default BindFunc.
func ListenUDP(addr netip.AddrPort) (Link, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP %s: %w", addr, err)
	}
	return &udpLink{conn: conn}, nil
}

func (l *udpLink) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	n, from, err := l.conn.ReadFromUDPAddrPort(p)
	// Dual-stack sockets report IPv4 peers as ::ffff:a.b.c.d.
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), err
}

func (l *udpLink) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	return l.conn.WriteToUDPAddrPort(p, addr)
}

func (l *udpLink) LocalAddr() netip.AddrPort {
	if a, ok := l.conn.LocalAddr().(*net.UDPAddr); ok {
		return a.AddrPort()
	}
	return netip.AddrPort{}
}

func (l *udpLink) Close() error {
	return l.conn.Close()
}
