package signaling

import (
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/1ureka/h1net/internal/webrtc"
)

// receiver applies incoming signaling messages to the peer. Candidates that
// arrive before the remote description are held until it is applied.
type receiver struct {
	peer   *webrtc.Peer
	conn   *websocket.Conn
	sender *sender

	remoteSet bool
	pending   []string
}

// watch runs until the WebSocket fails or a message cannot be applied.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read signaling message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.sender.sendAnswer(msg.SDP); err != nil {
				return fmt.Errorf("answer: %w", err)
			}
			if err := r.flush(); err != nil {
				return err
			}
		case msgTypeAnswer:
			if err := r.peer.Accept(msg.SDP); err != nil {
				return fmt.Errorf("apply answer: %w", err)
			}
			if err := r.flush(); err != nil {
				return err
			}
		case msgTypeCandidate:
			if !r.remoteSet {
				r.pending = append(r.pending, msg.Candidate)
				continue
			}
			if err := r.peer.AddCandidate(msg.Candidate); err != nil {
				return err
			}
		}
	}
}

func (r *receiver) flush() error {
	r.remoteSet = true
	for _, c := range r.pending {
		if err := r.peer.AddCandidate(c); err != nil {
			return err
		}
	}
	r.pending = nil
	return nil
}
