// Package transport owns the datagram socket. A Worker runs the socket in
// its own goroutines and talks to the rest of the process only through
// Envelope messages: inbound datagrams flow out, send/bind/close commands
// flow in.
package transport

import (
	"fmt"
	"net/netip"
)

// EnvelopeType identifies the kind of message exchanged with a Worker.
type EnvelopeType uint8

const (
	IncomingPacket EnvelopeType = iota + 1 // worker → owner
	SendPacket                             // owner → worker
	Bind                                   // owner → worker
	Close                                  // owner → worker
)

func (t EnvelopeType) String() string {
	switch t {
	case IncomingPacket:
		return "incomingPacket"
	case SendPacket:
		return "sendPacket"
	case Bind:
		return "bind"
	case Close:
		return "close"
	}
	return fmt.Sprintf("EnvelopeType(%d)", uint8(t))
}

// Envelope is the only value that crosses the worker boundary. Data is
// always a private copy owned by the receiver.
type Envelope struct {
	Type   EnvelopeType
	Data   []byte
	Remote netip.AddrPort
}
