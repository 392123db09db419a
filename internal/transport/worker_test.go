package transport_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/h1net/internal/transport"
)

type datagram struct {
	data []byte
	addr netip.AddrPort
}

// fakeLink is an in-memory Link: tests push datagrams into in and inspect
// what the worker wrote.
type fakeLink struct {
	in     chan datagram
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []datagram
}

func newFakeLink() *fakeLink {
	return &fakeLink{in: make(chan datagram, 64), closed: make(chan struct{})}
}

func (l *fakeLink) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-l.in:
		return copy(p, d.data), d.addr, nil
	case <-l.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (l *fakeLink) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, datagram{data: append([]byte(nil), p...), addr: addr})
	return len(p), nil
}

func (l *fakeLink) LocalAddr() netip.AddrPort {
	return netip.MustParseAddrPort("127.0.0.1:20042")
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) sentCopy() []datagram {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]datagram(nil), l.sent...)
}

func bindTo(link *fakeLink) transport.BindFunc {
	return func(netip.AddrPort) (transport.Link, error) { return link, nil }
}

var peer = netip.MustParseAddrPort("10.0.0.2:1117")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerDeliversInbound(t *testing.T) {
	link := newFakeLink()
	w := transport.NewWorker(context.Background(), transport.Config{Bind: bindTo(link)})
	defer w.Close()

	if err := w.Post(transport.Envelope{Type: transport.Bind}); err != nil {
		t.Fatalf("Post(bind) failed: %v", err)
	}
	<-w.Bound()

	payloads := [][]byte{{0x01}, {0x02, 0x03}, {0x04}}
	for _, p := range payloads {
		link.in <- datagram{data: p, addr: peer}
	}

	for i, want := range payloads {
		select {
		case env := <-w.Inbound():
			if env.Type != transport.IncomingPacket {
				t.Errorf("envelope %d type mismatch: got %s", i, env.Type)
			}
			if !bytes.Equal(env.Data, want) {
				t.Errorf("envelope %d data mismatch: got %x, want %x", i, env.Data, want)
			}
			if env.Remote != peer {
				t.Errorf("envelope %d remote mismatch: got %s, want %s", i, env.Remote, peer)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for envelope %d", i)
		}
	}
}

// TestWorkerSendAutoBinds verifies that the first send opens the socket on
// an ephemeral address.
func TestWorkerSendAutoBinds(t *testing.T) {
	link := newFakeLink()
	var boundAddr netip.AddrPort
	bind := func(addr netip.AddrPort) (transport.Link, error) {
		boundAddr = addr
		return link, nil
	}
	w := transport.NewWorker(context.Background(), transport.Config{
		Bind: bind,
		Addr: netip.MustParseAddrPort("0.0.0.0:1115"),
	})
	defer w.Close()

	data := []byte{0x03}
	if err := w.Post(transport.Envelope{Type: transport.SendPacket, Data: data, Remote: peer}); err != nil {
		t.Fatalf("Post(send) failed: %v", err)
	}
	data[0] = 0xff // the worker must have copied

	waitFor(t, "send", func() bool { return len(link.sentCopy()) == 1 })
	sent := link.sentCopy()[0]
	if !bytes.Equal(sent.data, []byte{0x03}) {
		t.Errorf("data mismatch: got %x, want 03", sent.data)
	}
	if sent.addr != peer {
		t.Errorf("addr mismatch: got %s, want %s", sent.addr, peer)
	}
	if boundAddr.IsValid() {
		t.Errorf("expected ephemeral bind, got %s", boundAddr)
	}
	if got := w.LocalAddr(); got != link.LocalAddr() {
		t.Errorf("LocalAddr mismatch: got %s, want %s", got, link.LocalAddr())
	}
}

func TestWorkerDropPolicy(t *testing.T) {
	testCases := []struct {
		name        string
		cfg         transport.Config
		send        int
		wantDropped uint64
	}{
		{
			name:        "inbox full",
			cfg:         transport.Config{InboxSize: 2},
			send:        6,
			wantDropped: 4,
		},
		{
			name:        "rate limited",
			cfg:         transport.Config{InboxSize: 16, Rate: 0.001, Burst: 3},
			send:        5,
			wantDropped: 2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			link := newFakeLink()
			tc.cfg.Bind = bindTo(link)
			w := transport.NewWorker(context.Background(), tc.cfg)
			defer w.Close()

			w.Post(transport.Envelope{Type: transport.Bind})
			<-w.Bound()

			for i := 0; i < tc.send; i++ {
				link.in <- datagram{data: []byte{byte(i)}, addr: peer}
			}
			waitFor(t, "drops", func() bool { return w.Dropped() == tc.wantDropped })

			delivered := len(w.Inbound())
			if want := tc.send - int(tc.wantDropped); delivered != want {
				t.Errorf("delivered mismatch: got %d, want %d", delivered, want)
			}
			first := <-w.Inbound()
			if first.Data[0] != 0 {
				t.Errorf("expected oldest datagram kept, got %d", first.Data[0])
			}
		})
	}
}

func TestWorkerPostErrors(t *testing.T) {
	link := newFakeLink()
	w := transport.NewWorker(context.Background(), transport.Config{Bind: bindTo(link), MaxDatagram: 4})

	err := w.Post(transport.Envelope{Type: transport.SendPacket, Data: make([]byte, 5), Remote: peer})
	if !errors.Is(err, transport.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}

	w.Post(transport.Envelope{Type: transport.Bind})
	<-w.Bound()
	if err := w.Post(transport.Envelope{Type: transport.Close}); err != nil {
		t.Fatalf("Post(close) failed: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after close")
	}
	select {
	case <-link.closed:
	default:
		t.Error("link was not closed")
	}

	err = w.Post(transport.Envelope{Type: transport.SendPacket, Data: []byte{1}, Remote: peer})
	if !errors.Is(err, transport.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

// TestWorkerUDP exchanges a datagram between two workers over loopback.
func TestWorkerUDP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := transport.NewWorker(ctx, transport.Config{Addr: netip.MustParseAddrPort("127.0.0.1:0")})
	client := transport.NewWorker(ctx, transport.Config{})
	defer server.Close()
	defer client.Close()

	server.Post(transport.Envelope{Type: transport.Bind})
	select {
	case <-server.Bound():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not bind")
	}

	payload := []byte{0x01, 0x2a, 0x00, 0x00, 0x00}
	if err := client.Post(transport.Envelope{Type: transport.SendPacket, Data: payload, Remote: server.LocalAddr()}); err != nil {
		t.Fatalf("Post(send) failed: %v", err)
	}

	select {
	case env := <-server.Inbound():
		if !bytes.Equal(env.Data, payload) {
			t.Errorf("data mismatch: got %x, want %x", env.Data, payload)
		}
		if env.Remote.Port() != client.LocalAddr().Port() {
			t.Errorf("remote port mismatch: got %d, want %d", env.Remote.Port(), client.LocalAddr().Port())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestEnvelopeTypeString(t *testing.T) {
	testCases := []struct {
		typ  transport.EnvelopeType
		want string
	}{
		{transport.IncomingPacket, "incomingPacket"},
		{transport.SendPacket, "sendPacket"},
		{transport.Bind, "bind"},
		{transport.Close, "close"},
		{transport.EnvelopeType(9), "EnvelopeType(9)"},
	}
	for _, tc := range testCases {
		if got := tc.typ.String(); got != tc.want {
			t.Errorf("String mismatch: got %s, want %s", got, tc.want)
		}
	}
}
