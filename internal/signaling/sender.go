package signaling

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/h1net/internal/webrtc"
)

// sender serializes outgoing signaling messages to the WebSocket.
type sender struct {
	peer *webrtc.Peer
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *sender) send(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *sender) sendOffer() error {
	sdp, err := s.peer.Offer()
	if err != nil {
		return err
	}
	return s.send(message{Type: msgTypeOffer, SDP: sdp})
}

func (s *sender) sendAnswer(offer string) error {
	sdp, err := s.peer.Answer(offer)
	if err != nil {
		return err
	}
	return s.send(message{Type: msgTypeAnswer, SDP: sdp})
}

func (s *sender) sendCandidate(candidate string) error {
	return s.send(message{Type: msgTypeCandidate, Candidate: candidate})
}
