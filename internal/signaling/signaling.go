package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/1ureka/h1net/internal/util"
	"github.com/1ureka/h1net/internal/webrtc"
)

// EstablishAsServer runs the server side of signaling on a started srv:
//  1. Wait for a client to connect
//  2. Create a Peer
//  3. Send the offer and trickle candidates
//  4. Wait for the DataChannel to open
//  5. Close the WebSocket and return the ready Peer
func EstablishAsServer(ctx context.Context, srv *Server, cfg webrtc.Config) (*webrtc.Peer, error) {
	util.LogInfo("waiting for signaling client on %s", srv.URL())

	wsConn, err := srv.WaitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer wsConn.Close()
	util.LogInfo("signaling client connected from %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, cfg, true)
}

// EstablishAsClient runs the client side of signaling against url:
//  1. Connect to the signaling server
//  2. Create a Peer
//  3. Answer the offer and trickle candidates
//  4. Wait for the DataChannel to open
//  5. Close the WebSocket and return the ready Peer
func EstablishAsClient(ctx context.Context, url string, cfg webrtc.Config) (*webrtc.Peer, error) {
	wsConn, err := connect(ctx, url)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogInfo("signaling connected: %s", url)

	return exchange(ctx, wsConn, cfg, false)
}

func exchange(ctx context.Context, wsConn *websocket.Conn, cfg webrtc.Config, offer bool) (*webrtc.Peer, error) {
	peer, err := webrtc.NewPeer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer: %w", err)
	}

	s := &sender{peer: peer, conn: wsConn}
	r := &receiver{peer: peer, conn: wsConn, sender: s}

	peer.OnCandidate(func(candidate string) {
		// Best effort: the socket may already be closed once the channel opens.
		if err := s.sendCandidate(candidate); err != nil {
			util.LogDebug("signaling: send candidate: %v", err)
		}
	})

	// Exits when wsConn is closed by the caller's defer.
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	if offer {
		if err := s.sendOffer(); err != nil {
			peer.Close()
			return nil, fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-peer.Ready():
		util.LogSuccess("WebRTC DataChannel established (remote %s), closing signaling", peer.RemoteAddr())
		return peer, nil

	case err := <-errCh:
		peer.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		peer.Close()
		return nil, ctx.Err()
	}
}
