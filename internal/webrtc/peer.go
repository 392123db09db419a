// Package webrtc carries datagrams over a single WebRTC DataChannel. A Peer
// implements transport.Link, so the transport worker can own it exactly as
// it owns a UDP socket.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/h1net/internal/util"
)

// STUN servers used when Config.ICEServers is nil. No TURN: the link is
// meant for direct connectivity.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
	inboxSize     = 1024
)

// Config tunes the PeerConnection.
type Config struct {
	ICEServers []string // nil selects the default STUN servers, empty uses none
	Loopback   bool     // gather loopback candidates (local testing)
}

// Peer wraps a single PeerConnection and DataChannel pair.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is logged but does not
// drive open/close decisions.
type Peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	openSignal  chan struct{}
	drainSignal chan struct{}
	inbox       chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	local  netip.AddrPort
	remote netip.AddrPort
}

// NewPeer creates a Peer backed by a new PeerConnection and a pre-negotiated
// DataChannel. The caller performs signaling through the exposed methods
// (CreateOffer / CreateAnswer / ...) and waits on Ready.
func NewPeer(ctx context.Context, cfg Config) (*Peer, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	pCtx, pCancel := context.WithCancel(ctx)
	p := &Peer{
		pc:          pc,
		dc:          dc,
		openSignal:  make(chan struct{}),
		drainSignal: make(chan struct{}, 1),
		inbox:       make(chan []byte, inboxSize),
		ctx:         pCtx,
		cancel:      pCancel,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() {
			p.resolveAddrs()
			close(p.openSignal)
		})
	})

	dc.OnClose(func() {
		util.LogDebug("webrtc: DataChannel closed")
		pCancel()
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case p.drainSignal <- struct{}{}:
		default:
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case p.inbox <- msg.Data:
		default:
			util.Stats.AddDropped()
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("webrtc: PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			pCancel()
		}
	})

	return p, nil
}

// newPeerConnection creates a PeerConnection with the configured ICE servers.
func newPeerConnection(cfg Config) (*webrtc.PeerConnection, error) {
	servers := cfg.ICEServers
	if servers == nil {
		servers = defaultSTUNServers
	}

	var rtc webrtc.Configuration
	if len(servers) > 0 {
		rtc.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}

	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(cfg.Loopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(rtc)
}

// newDataChannel creates a pre-negotiated, unordered DataChannel with no
// retransmissions, so it behaves like a datagram socket. Negotiated mode
// (ID 0) lets both sides create the channel without OnDataChannel.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	retransmits := uint16(0)
	id := uint16(0)

	return pc.CreateDataChannel("h1net", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (p *Peer) Ready() <-chan struct{} {
	return p.openSignal
}

// Done returns a channel that is closed when the Peer shuts down.
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (p *Peer) Close() error {
	p.cancel()
	return errors.Join(p.dc.Close(), p.pc.Close())
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// Offer creates an SDP offer and applies it as the local description.
func (p *Peer) Offer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

// Answer applies the remote offer, then creates an SDP answer and applies it
// as the local description.
func (p *Peer) Answer(offer string) (string, error) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: offer,
	}); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

// Accept applies the remote answer.
func (p *Peer) Accept(answer string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: answer,
	})
}

// OnCandidate registers a callback receiving each gathered local candidate
// as JSON-encoded ICECandidateInit.
func (p *Peer) OnCandidate(fn func(candidate string)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			util.LogWarning("webrtc: encode candidate: %v", err)
			return
		}
		fn(string(data))
	})
}

// AddCandidate adds a remote candidate in the form produced by OnCandidate.
func (p *Peer) AddCandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return fmt.Errorf("failed to parse ICE candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}
