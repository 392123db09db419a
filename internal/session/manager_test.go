package session

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/h1net/internal/protocol"
	"github.com/1ureka/h1net/internal/schema"
	"github.com/1ureka/h1net/internal/transport"
)

// fakeEndpoint records everything the manager posts.
type fakeEndpoint struct {
	mu     sync.Mutex
	posted []transport.Envelope
	in     chan transport.Envelope
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{in: make(chan transport.Envelope, 16)}
}

func (e *fakeEndpoint) Post(env transport.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.posted = append(e.posted, env)
	return nil
}

func (e *fakeEndpoint) Inbound() <-chan transport.Envelope { return e.in }

func (e *fakeEndpoint) take() []transport.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.posted
	e.posted = nil
	return out
}

type h1emuCodec struct{ reg *protocol.Registry }

func (c h1emuCodec) Decode(buf []byte) (protocol.Packet, error) {
	return c.reg.Decode(protocol.TableH1emu, buf)
}

func (c h1emuCodec) Encode(name string, fields schema.Fields) ([]byte, error) {
	return c.reg.Encode(protocol.TableH1emu, name, fields)
}

var remote = netip.MustParseAddrPort("192.168.1.20:1118")

type harness struct {
	t     *testing.T
	m     *Manager
	ep    *fakeEndpoint
	codec h1emuCodec

	connects    []Info
	sessions    []uint32
	failures    []uint32
	disconnects []Reason
	data        []protocol.Packet
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	reg, err := protocol.Default(schema.DefaultLimits())
	if err != nil {
		t.Fatalf("Default registry failed: %v", err)
	}
	h := &harness{t: t, ep: newFakeEndpoint(), codec: h1emuCodec{reg}}
	h.m = NewManager(cfg, h.ep, h.codec)
	h.m.OnConnect(func(i Info) { h.connects = append(h.connects, i) })
	h.m.OnSession(func(_ Info, status uint32) { h.sessions = append(h.sessions, status) })
	h.m.OnSessionFailed(func(_ Info, status uint32) { h.failures = append(h.failures, status) })
	h.m.OnDisconnect(func(_ Info, r Reason) { h.disconnects = append(h.disconnects, r) })
	h.m.OnData(func(_ Info, p protocol.Packet) { h.data = append(h.data, p) })
	return h
}

// deliver feeds an encoded packet from remote into the manager.
func (h *harness) deliver(name string, fields schema.Fields, now time.Time) {
	h.t.Helper()
	data, err := h.codec.Encode(name, fields)
	if err != nil {
		h.t.Fatalf("Encode(%s) failed: %v", name, err)
	}
	h.m.handleEnvelope(transport.Envelope{Type: transport.IncomingPacket, Data: data, Remote: remote}, now)
}

// sent decodes and returns the names of packets posted since the last call.
func (h *harness) sent() []protocol.Packet {
	h.t.Helper()
	var out []protocol.Packet
	for _, env := range h.ep.take() {
		if env.Type != transport.SendPacket {
			continue
		}
		if env.Remote != remote {
			h.t.Errorf("send remote mismatch: got %s, want %s", env.Remote, remote)
		}
		pkt, err := h.codec.Decode(env.Data)
		if err != nil {
			h.t.Fatalf("Decode(sent) failed: %v", err)
		}
		out = append(out, pkt)
	}
	return out
}

func (h *harness) countPings() int {
	n := 0
	for _, p := range h.sent() {
		if p.Name == protocol.PacketPing {
			n++
		}
	}
	return n
}

var testConfig = Config{
	PingInterval:  10 * time.Second,
	PingTimeout:   60 * time.Second,
	SweepInterval: 10 * time.Second,
}

func TestHandshakeAccepted(t *testing.T) {
	h := newHarness(t, testConfig)

	id, err := h.m.Connect(remote, schema.Fields{"serverId": uint32(1)})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	sent := h.sent()
	if len(sent) != 1 || sent[0].Name != protocol.PacketSessionRequest {
		t.Fatalf("expected one SessionRequest, got %+v", sent)
	}
	if got := sent[0].Fields.Uint32("serverId"); got != 1 {
		t.Errorf("serverId mismatch: got %d, want 1", got)
	}
	if len(h.connects) != 1 {
		t.Errorf("connect notifications mismatch: got %d, want 1", len(h.connects))
	}

	t0 := time.Now()
	h.deliver(protocol.PacketSessionReply, schema.Fields{"status": uint32(0)}, t0)

	info, ok := h.m.Session(id)
	if !ok {
		t.Fatal("session missing after reply")
	}
	if info.State != Established {
		t.Errorf("state mismatch: got %s, want %s", info.State, Established)
	}
	if len(h.sessions) != 1 || h.sessions[0] != 0 {
		t.Errorf("session notifications mismatch: got %v", h.sessions)
	}

	steps := []struct {
		at    time.Duration
		pings int
	}{
		{5 * time.Second, 0},
		{10 * time.Second, 1},
		{15 * time.Second, 0},
		{20 * time.Second, 1},
		{30 * time.Second, 1},
	}
	for _, s := range steps {
		// Keep the peer alive so the sweep never interferes.
		h.deliver(protocol.PacketPing, nil, t0.Add(s.at))
		h.m.tick(t0.Add(s.at))
		if got := h.countPings(); got != s.pings {
			t.Errorf("pings at %s mismatch: got %d, want %d", s.at, got, s.pings)
		}
	}
}

func TestHandshakeRejected(t *testing.T) {
	h := newHarness(t, testConfig)

	id, err := h.m.Connect(remote, schema.Fields{"serverId": uint32(7)})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h.ep.take()

	t0 := time.Now()
	h.deliver(protocol.PacketSessionReply, schema.Fields{"status": protocol.StatusNotWhitelisted}, t0)

	if len(h.failures) != 1 || h.failures[0] != protocol.StatusNotWhitelisted {
		t.Errorf("failure notifications mismatch: got %v", h.failures)
	}
	if len(h.sessions) != 0 {
		t.Errorf("unexpected session notifications: %v", h.sessions)
	}

	info, ok := h.m.Session(id)
	if !ok {
		t.Fatal("rejected session should be retained")
	}
	if info.State == Established {
		t.Error("rejected session became established")
	}
	if info.Status != protocol.StatusNotWhitelisted {
		t.Errorf("status mismatch: got %d, want %d", info.Status, protocol.StatusNotWhitelisted)
	}

	for _, at := range []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second} {
		h.m.tick(t0.Add(at))
	}
	if got := h.countPings(); got != 0 {
		t.Errorf("rejected session was probed %d times", got)
	}
	if err := h.m.Send(id, "Ack", nil); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("Send on rejected session: got %v, want ErrNotEstablished", err)
	}
}

func TestResponderHandshake(t *testing.T) {
	tests := []struct {
		name        string
		status      uint32
		established bool
	}{
		{"accepted", protocol.StatusAccepted, true},
		{"not whitelisted", protocol.StatusNotWhitelisted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig)
			var seen uint32
			h.m.SetValidator(func(_ Info, req schema.Fields) uint32 {
				seen = req.Uint32("serverId")
				return tt.status
			})

			h.deliver(protocol.PacketSessionRequest, schema.Fields{"serverId": uint32(42)}, time.Now())

			if seen != 42 {
				t.Errorf("validator serverId mismatch: got %d, want 42", seen)
			}
			if len(h.connects) != 1 {
				t.Fatalf("connect notifications mismatch: got %d, want 1", len(h.connects))
			}
			sent := h.sent()
			if len(sent) != 1 || sent[0].Name != protocol.PacketSessionReply {
				t.Fatalf("expected one SessionReply, got %+v", sent)
			}
			if got := sent[0].Fields.Uint32("status"); got != tt.status {
				t.Errorf("reply status mismatch: got %d, want %d", got, tt.status)
			}

			info, _ := h.m.Session(h.connects[0].ID)
			if (info.State == Established) != tt.established {
				t.Errorf("state mismatch: got %s", info.State)
			}
			if tt.established && len(h.sessions) != 1 {
				t.Errorf("session notifications mismatch: got %v", h.sessions)
			}
			if !tt.established && len(h.failures) != 1 {
				t.Errorf("failure notifications mismatch: got %v", h.failures)
			}
			if info.Initiator {
				t.Error("responder marked as initiator")
			}
		})
	}
}

func TestEchoPing(t *testing.T) {
	tests := []struct {
		name  string
		echo  bool
		pings int
	}{
		{"echo", true, 1},
		{"silent", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig
			cfg.EchoPing = tt.echo
			h := newHarness(t, cfg)

			now := time.Now()
			h.deliver(protocol.PacketSessionRequest, nil, now)
			h.ep.take()
			h.deliver(protocol.PacketPing, nil, now.Add(time.Second))

			if got := h.countPings(); got != tt.pings {
				t.Errorf("echoed pings mismatch: got %d, want %d", got, tt.pings)
			}
			// The responder never probes on its own.
			h.m.tick(now.Add(30 * time.Second))
			if got := h.countPings(); got != 0 {
				t.Errorf("responder probes mismatch: got %d, want 0", got)
			}
		})
	}
}

// TestPingExchangeBackToBack wires a client and a server manager together,
// both with ping echo enabled, and checks that one keepalive probe yields
// exactly one echo.
func TestPingExchangeBackToBack(t *testing.T) {
	cfg := testConfig
	cfg.EchoPing = true
	srv := newHarness(t, cfg)
	cli := newHarness(t, cfg)
	clientAddr := netip.MustParseAddrPort("192.168.1.30:40000")

	// pump moves datagrams between the managers until both are quiet and
	// returns how many were delivered.
	pump := func(now time.Time) int {
		moved := 0
		for round := 0; round < 50; round++ {
			toSrv, toCli := cli.ep.take(), srv.ep.take()
			if len(toSrv)+len(toCli) == 0 {
				break
			}
			for _, env := range toSrv {
				if env.Type == transport.SendPacket {
					srv.m.handleEnvelope(transport.Envelope{Type: transport.IncomingPacket, Data: env.Data, Remote: clientAddr}, now)
					moved++
				}
			}
			for _, env := range toCli {
				if env.Type == transport.SendPacket {
					cli.m.handleEnvelope(transport.Envelope{Type: transport.IncomingPacket, Data: env.Data, Remote: remote}, now)
					moved++
				}
			}
		}
		return moved
	}

	t0 := time.Now()
	id, err := cli.m.Connect(remote, schema.Fields{"serverId": uint32(1)})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := pump(t0); got != 2 {
		t.Errorf("handshake datagrams mismatch: got %d, want 2", got)
	}
	if info, _ := cli.m.Session(id); info.State != Established {
		t.Fatalf("client state mismatch: got %s, want %s", info.State, Established)
	}

	probeAt := t0.Add(11 * time.Second)
	cli.m.tick(probeAt)
	if got := pump(probeAt); got != 2 {
		t.Errorf("keepalive datagrams mismatch: got %d, want 2", got)
	}

	if info, _ := cli.m.Session(id); !info.LastSeen.Equal(probeAt) {
		t.Errorf("client LastSeen mismatch: got %s, want %s", info.LastSeen, probeAt)
	}
	for _, info := range srv.m.Sessions() {
		if !info.LastSeen.Equal(probeAt) {
			t.Errorf("server LastSeen mismatch: got %s, want %s", info.LastSeen, probeAt)
		}
	}
}

func TestConnectEstablished(t *testing.T) {
	h := newHarness(t, testConfig)

	id, err := h.m.Connect(remote, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h.deliver(protocol.PacketSessionReply, schema.Fields{"status": uint32(0)}, time.Now())
	h.ep.take()

	again, err := h.m.Connect(remote, nil)
	if err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if again != id {
		t.Errorf("id mismatch: got %s, want %s", again, id)
	}
	if sent := h.sent(); len(sent) != 0 {
		t.Errorf("expected nothing sent, got %+v", sent)
	}
	if info, _ := h.m.Session(id); info.State != Established {
		t.Errorf("state mismatch: got %s, want %s", info.State, Established)
	}
	if len(h.connects) != 1 {
		t.Errorf("connect notifications mismatch: got %d, want 1", len(h.connects))
	}
}

func TestTimeoutEvictsOnce(t *testing.T) {
	h := newHarness(t, testConfig)

	t0 := time.Now()
	h.deliver(protocol.PacketSessionRequest, nil, t0)
	id := h.connects[0].ID

	// A ping inside the window keeps the session alive.
	h.deliver(protocol.PacketPing, nil, t0.Add(50*time.Second))
	h.m.tick(t0.Add(70 * time.Second))
	if len(h.disconnects) != 0 {
		t.Fatalf("evicted while alive: %v", h.disconnects)
	}

	last := t0.Add(50 * time.Second)
	for i := 0; i < 5; i++ {
		h.m.tick(last.Add(61*time.Second + time.Duration(i)*testConfig.SweepInterval))
	}

	if len(h.disconnects) != 1 {
		t.Fatalf("disconnect notifications mismatch: got %d, want 1", len(h.disconnects))
	}
	if h.disconnects[0] != ReasonTimeout {
		t.Errorf("reason mismatch: got %s, want %s", h.disconnects[0], ReasonTimeout)
	}
	if _, ok := h.m.Session(id); ok {
		t.Error("evicted session still present")
	}
	if err := h.m.Close(id); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Close after eviction: got %v, want ErrUnknownSession", err)
	}
}

func TestHalfOpenSessionTimesOut(t *testing.T) {
	h := newHarness(t, testConfig)

	t0 := time.Now()
	h.m.handleEnvelope(transport.Envelope{Type: transport.IncomingPacket, Data: []byte{0xee, 0x01}, Remote: remote}, t0)
	if len(h.connects) != 1 {
		t.Fatalf("connect notifications mismatch: got %d, want 1", len(h.connects))
	}

	h.m.tick(t0.Add(61 * time.Second))
	if len(h.disconnects) != 1 {
		t.Errorf("disconnect notifications mismatch: got %d, want 1", len(h.disconnects))
	}
}

func TestDataRouting(t *testing.T) {
	h := newHarness(t, testConfig)
	now := time.Now()

	h.m.handleEnvelope(transport.Envelope{Type: transport.IncomingPacket, Data: []byte{0xee, 0x01, 0x02}, Remote: remote}, now)
	h.deliver("Ack", nil, now)
	// Truncated SessionReply: dropped, the record stays.
	h.m.handleEnvelope(transport.Envelope{Type: transport.IncomingPacket, Data: []byte{0x02, 0x00}, Remote: remote}, now)

	if len(h.connects) != 1 {
		t.Errorf("connect notifications mismatch: got %d, want 1", len(h.connects))
	}
	if len(h.data) != 2 {
		t.Fatalf("data notifications mismatch: got %d, want 2", len(h.data))
	}
	if h.data[0].Known() || h.data[0].Type != 0xee {
		t.Errorf("unknown packet mismatch: got %+v", h.data[0])
	}
	if h.data[1].Name != "Ack" {
		t.Errorf("packet name mismatch: got %q, want Ack", h.data[1].Name)
	}
}

func TestSendErrors(t *testing.T) {
	h := newHarness(t, testConfig)

	if err := h.m.Send(ID{}, "Ack", nil); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Send to unknown id: got %v, want ErrUnknownSession", err)
	}

	h.deliver(protocol.PacketSessionRequest, nil, time.Now())
	id := h.connects[0].ID
	h.ep.take()

	if err := h.m.Send(id, "NoSuchPacket", nil); !errors.Is(err, protocol.ErrUnknownPacket) {
		t.Errorf("Send unknown name: got %v, want ErrUnknownPacket", err)
	}
	if got := h.ep.take(); len(got) != 0 {
		t.Errorf("unknown packet produced %d envelopes", len(got))
	}
	if err := h.m.Send(id, "Ack", nil); err != nil {
		t.Errorf("Send on established session failed: %v", err)
	}
}

func TestCloseAndShutdown(t *testing.T) {
	h := newHarness(t, testConfig)
	now := time.Now()

	h.deliver(protocol.PacketSessionRequest, nil, now)
	other := netip.MustParseAddrPort("192.168.1.21:1118")
	h.m.handleEnvelope(transport.Envelope{Type: transport.IncomingPacket, Data: []byte{0x03}, Remote: other}, now)
	if got := len(h.m.Sessions()); got != 2 {
		t.Fatalf("session count mismatch: got %d, want 2", got)
	}

	if err := h.m.Close(h.connects[0].ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	h.ep.take()
	h.m.Shutdown()
	h.m.Shutdown()

	if len(h.disconnects) != 2 {
		t.Fatalf("disconnect notifications mismatch: got %d, want 2", len(h.disconnects))
	}
	for i, r := range h.disconnects {
		if r != ReasonClosed {
			t.Errorf("disconnect %d reason mismatch: got %s, want %s", i, r, ReasonClosed)
		}
	}

	closes := 0
	for _, env := range h.ep.take() {
		if env.Type == transport.Close {
			closes++
		}
	}
	if closes != 1 {
		t.Errorf("close envelopes mismatch: got %d, want 1", closes)
	}
	if _, err := h.m.Connect(remote, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after shutdown: got %v, want ErrClosed", err)
	}
}

func TestRun(t *testing.T) {
	h := newHarness(t, Config{Tick: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- h.m.Run(ctx) }()

	req, _ := h.codec.Encode(protocol.PacketSessionRequest, schema.Fields{"serverId": uint32(3)})
	h.ep.in <- transport.Envelope{Type: transport.IncomingPacket, Data: req, Remote: remote}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var n int
		if err := h.m.Do(ctx, func() { n = len(h.m.Sessions()) }); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error mismatch: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if err := h.m.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do after Run: got %v, want ErrClosed", err)
	}
	if len(h.disconnects) != 1 || h.disconnects[0] != ReasonClosed {
		t.Errorf("disconnects mismatch: got %v", h.disconnects)
	}
}

// TestDoShutdown verifies that a call which stops the loop still reports
// success to its caller.
func TestDoShutdown(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, Config{Tick: 10 * time.Millisecond})
		errc := make(chan error, 1)
		go func() { errc <- h.m.Run(context.Background()) }()

		if err := h.m.Do(context.Background(), h.m.Shutdown); err != nil {
			t.Fatalf("run %d: Do(Shutdown) failed: %v", i, err)
		}
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("run %d: Run error mismatch: got %v, want nil", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d: Run did not return", i)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.PingInterval != DefaultPingInterval {
		t.Errorf("PingInterval mismatch: got %s, want %s", cfg.PingInterval, DefaultPingInterval)
	}
	if cfg.PingTimeout != DefaultPingTimeout {
		t.Errorf("PingTimeout mismatch: got %s, want %s", cfg.PingTimeout, DefaultPingTimeout)
	}
	if cfg.SweepInterval != cfg.PingInterval {
		t.Errorf("SweepInterval mismatch: got %s, want %s", cfg.SweepInterval, cfg.PingInterval)
	}

	fast := Config{PingInterval: 200 * time.Millisecond}.withDefaults()
	if fast.Tick != 200*time.Millisecond {
		t.Errorf("Tick mismatch: got %s, want 200ms", fast.Tick)
	}
}
