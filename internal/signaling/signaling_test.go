package signaling

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/h1net/internal/webrtc"
)

var loopback = webrtc.Config{ICEServers: []string{}, Loopback: true}

func TestServerRejectsBadToken(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "secret")
	if _, err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Close()

	bad := strings.Replace(srv.URL(), "secret", "wrong", 1)
	_, resp, err := websocket.DefaultDialer.Dial(bad, nil)
	if err == nil {
		t.Fatal("expected dial with wrong token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status mismatch: got %v, want %d", resp, http.StatusUnauthorized)
	}
}

func TestWaitForClientCancelled(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "")
	if _, err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := srv.WaitForClient(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error mismatch: got %v, want DeadlineExceeded", err)
	}
}

// TestEstablish runs both sides of signaling over loopback and exchanges a
// datagram in each direction.
func TestEstablish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv := NewServer("127.0.0.1:0", "secret")
	if _, err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Close()

	type result struct {
		peer *webrtc.Peer
		err  error
	}
	serverCh := make(chan result, 1)
	go func() {
		p, err := EstablishAsServer(ctx, srv, loopback)
		serverCh <- result{p, err}
	}()

	client, err := EstablishAsClient(ctx, srv.URL(), loopback)
	if err != nil {
		t.Skipf("WebRTC unavailable in this environment: %v", err)
	}
	defer client.Close()

	res := <-serverCh
	if res.err != nil {
		t.Skipf("WebRTC unavailable in this environment: %v", res.err)
	}
	server := res.peer
	defer server.Close()

	exchangeOne := func(from, to *webrtc.Peer, payload []byte) {
		t.Helper()
		if _, err := from.WriteTo(payload, to.LocalAddr()); err != nil {
			t.Fatalf("WriteTo failed: %v", err)
		}
		buf := make([]byte, 512)
		n, _, err := to.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom failed: %v", err)
		}
		if !bytes.Equal(buf[:n], payload) {
			t.Errorf("payload mismatch: got %x, want %x", buf[:n], payload)
		}
	}

	exchangeOne(client, server, []byte{0x01, 0x07, 0x00, 0x00, 0x00})
	exchangeOne(server, client, []byte{0x02, 0x00, 0x00, 0x00, 0x00})
}
