// Package session tracks the peers of an h1emu endpoint: the handshake,
// keepalive probes and timeout eviction. All session state lives on the
// Manager's loop goroutine.
package session

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// ID identifies a session to application handlers.
type ID = uuid.UUID

// State is the lifecycle position of a session.
type State uint8

// Unseen is the state of an address that has no record. Records are
// created directly in Handshaking, so Unseen only shows up in zero Info
// values and never in a live session.
const (
	Unseen State = iota
	Handshaking
	Established
	TimedOut
	Closed
)

func (s State) String() string {
	switch s {
	case Unseen:
		return "unseen"
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	case TimedOut:
		return "timed out"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Reason explains a disconnect notification.
type Reason uint8

const (
	ReasonTimeout Reason = iota + 1
	ReasonClosed
)

func (r Reason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonClosed:
		return "closed"
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// Info is a snapshot of a session handed to callbacks.
type Info struct {
	ID        ID
	Remote    netip.AddrPort
	Tag       uint32 // short hash of Remote for log lines
	State     State
	Initiator bool   // this side sent the SessionRequest
	Status    uint32 // last handshake status
	LastSeen  time.Time
}

type session struct {
	id        ID
	remote    netip.AddrPort
	tag       uint32
	state     State
	initiator bool
	status    uint32

	lastSeen  time.Time
	nextProbe time.Time
}

func (s *session) info() Info {
	return Info{
		ID:        s.id,
		Remote:    s.remote,
		Tag:       s.tag,
		State:     s.state,
		Initiator: s.initiator,
		Status:    s.status,
		LastSeen:  s.lastSeen,
	}
}
