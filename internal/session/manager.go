package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/h1net/internal/protocol"
	"github.com/1ureka/h1net/internal/schema"
	"github.com/1ureka/h1net/internal/transport"
	"github.com/1ureka/h1net/internal/util"
)

const (
	DefaultPingInterval = 10 * time.Second
	DefaultPingTimeout  = 60 * time.Second
	defaultTick         = time.Second
	callQueueSize       = 64
)

var (
	ErrUnknownSession = errors.New("session: unknown session")
	ErrNotEstablished = errors.New("session: not established")
	ErrClosed         = errors.New("session: manager closed")
)

// Config controls keepalive and eviction. Zero values select the defaults.
type Config struct {
	PingInterval  time.Duration // probe period of the initiating side
	PingTimeout   time.Duration // silence tolerated before eviction
	SweepInterval time.Duration // how often silent sessions are looked for
	Tick          time.Duration // scheduler granularity
	EchoPing      bool          // as responder, answer every Ping with a Ping
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.PingInterval
	}
	if c.Tick <= 0 {
		c.Tick = min(defaultTick, c.PingInterval, c.SweepInterval)
	}
	return c
}

// Endpoint is the transport side of a Manager. *transport.Worker
// implements it.
type Endpoint interface {
	Post(env transport.Envelope) error
	Inbound() <-chan transport.Envelope
}

// Codec converts between datagrams and packets of the session protocol.
type Codec interface {
	Decode(buf []byte) (protocol.Packet, error)
	Encode(name string, fields schema.Fields) ([]byte, error)
}

// Validator decides the status of an inbound SessionRequest. Zero accepts.
type Validator func(info Info, request schema.Fields) uint32

// Manager owns every session record. Run processes inbound datagrams,
// scheduler ticks and submitted calls one at a time on a single goroutine;
// callbacks run there too. The methods that touch sessions (Listen,
// Connect, Send, Close, Shutdown, Sessions) must be called from a callback
// or from a function passed to Do.
type Manager struct {
	cfg   Config
	ep    Endpoint
	codec Codec

	sessions map[netip.AddrPort]*session
	byID     map[ID]*session

	nextSweep time.Time
	closed    bool

	calls chan func()
	done  chan struct{}

	validate        Validator
	onConnect       func(Info)
	onSession       func(Info, uint32)
	onSessionFailed func(Info, uint32)
	onDisconnect    func(Info, Reason)
	onData          func(Info, protocol.Packet)
}

// NewManager creates a manager over ep. Callbacks must be registered before
// Run is called.
func NewManager(cfg Config, ep Endpoint, codec Codec) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		ep:       ep,
		codec:    codec,
		sessions: make(map[netip.AddrPort]*session),
		byID:     make(map[ID]*session),
		calls:    make(chan func(), callQueueSize),
		done:     make(chan struct{}),
	}
}

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

// OnConnect is called when a session record is created, either by the first
// datagram from a new endpoint or by Connect.
func (m *Manager) OnConnect(fn func(Info)) { m.onConnect = fn }

// OnSession is called when a handshake completes with status 0.
func (m *Manager) OnSession(fn func(Info, uint32)) { m.onSession = fn }

// OnSessionFailed is called when a handshake is rejected.
func (m *Manager) OnSessionFailed(fn func(Info, uint32)) { m.onSessionFailed = fn }

// OnDisconnect is called exactly once when a record is deleted.
func (m *Manager) OnDisconnect(fn func(Info, Reason)) { m.onDisconnect = fn }

// OnData receives every packet that is not part of the session protocol,
// including packets whose opcode did not resolve.
func (m *Manager) OnData(fn func(Info, protocol.Packet)) { m.onData = fn }

// SetValidator installs the SessionRequest check. Without one, every
// request is accepted.
func (m *Manager) SetValidator(fn Validator) { m.validate = fn }

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

// Run processes events until ctx is cancelled or Shutdown is called.
// Cancellation shuts the manager down before returning.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for !m.closed {
		select {
		case env := <-m.ep.Inbound():
			m.handleEnvelope(env, time.Now())
		case now := <-ticker.C:
			m.tick(now)
		case fn := <-m.calls:
			fn()
		case <-ctx.Done():
			m.Shutdown()
			return ctx.Err()
		}
	}
	return nil
}

// Do runs fn on the loop goroutine and waits for it to finish. It must not
// be called from a callback.
func (m *Manager) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}

	select {
	case m.calls <- call:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-m.done:
		// fn may itself have stopped the loop.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// Listen asks the transport to bind its configured address.
func (m *Manager) Listen() error {
	return m.ep.Post(transport.Envelope{Type: transport.Bind})
}

// Connect starts a handshake with remote by sending a SessionRequest. The
// record is created immediately in the Handshaking state. Connecting to an
// address that already has an established session returns its ID and sends
// nothing.
func (m *Manager) Connect(remote netip.AddrPort, request schema.Fields) (ID, error) {
	if m.closed {
		return ID{}, ErrClosed
	}
	s, _ := m.lookupOrCreate(remote, time.Now())
	if s.state == Established {
		util.LogDebug("[%08x] already established with %s", s.tag, remote)
		return s.id, nil
	}
	s.initiator = true
	s.state = Handshaking
	if err := m.post(s, protocol.PacketSessionRequest, request); err != nil {
		return s.id, err
	}
	util.LogInfo("[%08x] session request sent to %s", s.tag, remote)
	return s.id, nil
}

// Send encodes and sends a packet. Only a SessionRequest may be sent before
// the session is established.
func (m *Manager) Send(id ID, name string, fields schema.Fields) error {
	s, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if s.state != Established && name != protocol.PacketSessionRequest {
		return fmt.Errorf("%w: %s cannot send %s", ErrNotEstablished, id, name)
	}
	return m.post(s, name, fields)
}

// Close deletes one session.
func (m *Manager) Close(id ID) error {
	s, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	m.remove(s, Closed, ReasonClosed)
	return nil
}

// Shutdown deletes every session and tells the transport to release its
// socket. Run returns after the current event.
func (m *Manager) Shutdown() {
	if m.closed {
		return
	}
	for _, s := range m.sessions {
		m.remove(s, Closed, ReasonClosed)
	}
	if err := m.ep.Post(transport.Envelope{Type: transport.Close}); err != nil {
		util.LogDebug("session: post close: %v", err)
	}
	m.closed = true
}

// Session returns a snapshot of one session.
func (m *Manager) Session(id ID) (Info, bool) {
	s, ok := m.byID[id]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// Sessions returns snapshots of every session.
func (m *Manager) Sessions() []Info {
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	return out
}

// ---------------------------------------------------------------------------
// Event handling
// ---------------------------------------------------------------------------

func (m *Manager) handleEnvelope(env transport.Envelope, now time.Time) {
	if env.Type != transport.IncomingPacket {
		util.LogDebug("session: ignoring %s envelope", env.Type)
		return
	}

	s, _ := m.lookupOrCreate(env.Remote, now)

	pkt, err := m.codec.Decode(env.Data)
	if err != nil {
		util.LogWarning("[%08x] dropping datagram from %s: %v", s.tag, env.Remote, err)
		return
	}

	switch pkt.Name {
	case protocol.PacketPing:
		s.lastSeen = now
		// Only the responder answers; the initiator's probes drive the exchange.
		if m.cfg.EchoPing && !s.initiator && s.state == Established {
			if err := m.post(s, protocol.PacketPing, nil); err != nil {
				util.LogWarning("[%08x] failed to echo ping: %v", s.tag, err)
			}
		}
	case protocol.PacketSessionRequest:
		m.handleRequest(s, pkt, now)
	case protocol.PacketSessionReply:
		m.handleReply(s, pkt, now)
	default:
		if m.onData != nil {
			m.onData(s.info(), pkt)
		}
	}
}

func (m *Manager) handleRequest(s *session, pkt protocol.Packet, now time.Time) {
	s.initiator = false
	status := protocol.StatusAccepted
	if m.validate != nil {
		status = m.validate(s.info(), pkt.Fields)
	}
	s.status = status
	s.lastSeen = now

	if status == protocol.StatusAccepted {
		s.state = Established
	} else {
		s.state = Handshaking
	}

	if err := m.post(s, protocol.PacketSessionReply, schema.Fields{"status": status}); err != nil {
		util.LogWarning("[%08x] failed to send session reply: %v", s.tag, err)
	}

	if status != protocol.StatusAccepted {
		util.LogWarning("[%08x] session request from %s refused (status %d)", s.tag, s.remote, status)
		if m.onSessionFailed != nil {
			m.onSessionFailed(s.info(), status)
		}
		return
	}
	util.LogSuccess("[%08x] session accepted from %s", s.tag, s.remote)
	if m.onSession != nil {
		m.onSession(s.info(), status)
	}
}

func (m *Manager) handleReply(s *session, pkt protocol.Packet, now time.Time) {
	if s.state != Handshaking {
		util.LogDebug("[%08x] ignoring session reply in state %s", s.tag, s.state)
		return
	}

	status := pkt.Fields.Uint32("status")
	s.status = status
	if status != protocol.StatusAccepted {
		reason := "unknown error"
		if status == protocol.StatusNotWhitelisted {
			reason = "not whitelisted"
		}
		util.LogWarning("[%08x] session refused by %s: %s (status %d)", s.tag, s.remote, reason, status)
		if m.onSessionFailed != nil {
			m.onSessionFailed(s.info(), status)
		}
		return
	}

	s.state = Established
	s.lastSeen = now
	s.nextProbe = now.Add(m.cfg.PingInterval)
	util.LogSuccess("[%08x] session established with %s", s.tag, s.remote)
	if m.onSession != nil {
		m.onSession(s.info(), status)
	}
}

// tick sends due keepalive probes and, when the sweep is due, evicts every
// session that has been silent for longer than the timeout.
func (m *Manager) tick(now time.Time) {
	for _, s := range m.sessions {
		if s.state != Established || !s.initiator || now.Before(s.nextProbe) {
			continue
		}
		if err := m.post(s, protocol.PacketPing, nil); err != nil {
			util.LogWarning("[%08x] failed to send ping: %v", s.tag, err)
		}
		s.nextProbe = now.Add(m.cfg.PingInterval)
	}

	if now.Before(m.nextSweep) {
		return
	}
	m.nextSweep = now.Add(m.cfg.SweepInterval)
	for _, s := range m.sessions {
		if now.Sub(s.lastSeen) > m.cfg.PingTimeout {
			util.LogWarning("[%08x] %s timed out after %s", s.tag, s.remote, now.Sub(s.lastSeen).Round(time.Second))
			m.remove(s, TimedOut, ReasonTimeout)
		}
	}
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func (m *Manager) lookupOrCreate(remote netip.AddrPort, now time.Time) (*session, bool) {
	if s, ok := m.sessions[remote]; ok {
		return s, false
	}

	s := &session{
		id:       uuid.New(),
		remote:   remote,
		tag:      util.EndpointTag(remote),
		state:    Handshaking,
		lastSeen: now,
	}
	m.sessions[remote] = s
	m.byID[s.id] = s
	util.Stats.AddSession()

	util.LogDebug("[%08x] new endpoint %s", s.tag, remote)
	if m.onConnect != nil {
		m.onConnect(s.info())
	}
	return s, true
}

// remove deletes s together with its deadlines and notifies once.
func (m *Manager) remove(s *session, state State, reason Reason) {
	if _, ok := m.byID[s.id]; !ok {
		return
	}
	delete(m.sessions, s.remote)
	delete(m.byID, s.id)
	s.state = state
	util.Stats.RemoveSession()

	if m.onDisconnect != nil {
		m.onDisconnect(s.info(), reason)
	}
}

func (m *Manager) post(s *session, name string, fields schema.Fields) error {
	data, err := m.codec.Encode(name, fields)
	if err != nil {
		return err
	}
	return m.ep.Post(transport.Envelope{Type: transport.SendPacket, Data: data, Remote: s.remote})
}
