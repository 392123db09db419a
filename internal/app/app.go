// Package app contains the top-level orchestration for the server and client
// roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/1ureka/h1net/internal/config"
	"github.com/1ureka/h1net/internal/dispatch"
	"github.com/1ureka/h1net/internal/metrics"
	"github.com/1ureka/h1net/internal/protocol"
	"github.com/1ureka/h1net/internal/schema"
	"github.com/1ureka/h1net/internal/session"
	"github.com/1ureka/h1net/internal/signaling"
	"github.com/1ureka/h1net/internal/transport"
	"github.com/1ureka/h1net/internal/util"
	"github.com/1ureka/h1net/internal/webrtc"
)

// Node is one running endpoint: a transport worker, the session manager on
// top of it and the router that turns datagrams into handler calls.
type Node struct {
	cfg     config.Config
	worker  *transport.Worker
	mgr     *session.Manager
	router  *dispatch.Router
	metrics *metrics.Metrics

	// Set by the client role. Fires when the handshake finishes.
	established chan uint32
	pings       *pingTracker
}

// NewNode wires a node over bind. A nil bind uses UDP.
func NewNode(ctx context.Context, cfg config.Config, bind transport.BindFunc) (*Node, error) {
	reg, err := protocol.Default(schema.DefaultLimits())
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	router, err := dispatch.New(reg, protocol.TableH1emu, dispatch.WithObserver(m))
	if err != nil {
		return nil, err
	}

	addr, err := cfg.ListenAddr()
	if err != nil {
		return nil, err
	}

	worker := transport.NewWorker(ctx, transport.Config{
		Bind:        bind,
		Addr:        addr,
		InboxSize:   cfg.InboxSize,
		OutboxSize:  cfg.OutboxSize,
		MaxDatagram: cfg.MaxDatagram,
		Rate:        cfg.InboundRate,
		Burst:       cfg.InboundBurst,
	})

	mgr := session.NewManager(session.Config{
		PingInterval:  cfg.PingInterval,
		PingTimeout:   cfg.PingTimeout,
		SweepInterval: cfg.SweepInterval,
		EchoPing:      cfg.EchoPing,
	}, worker, router)

	n := &Node{
		cfg:         cfg,
		worker:      worker,
		mgr:         mgr,
		router:      router,
		metrics:     m,
		established: make(chan uint32, 1),
		pings:       newPingTracker(),
	}
	n.wire(ctx)
	if err := n.registerHandlers(); err != nil {
		worker.Close()
		return nil, err
	}
	return n, nil
}

// wire connects session notifications to logging, metrics and the router.
func (n *Node) wire(ctx context.Context) {
	n.mgr.OnConnect(func(info session.Info) {
		util.LogInfo("[%08x] %s connected (session %s)", info.Tag, info.Remote, info.ID)
	})
	n.mgr.OnSession(func(info session.Info, status uint32) {
		n.metrics.Handshake(status)
		n.notifyEstablished(status)
	})
	n.mgr.OnSessionFailed(func(info session.Info, status uint32) {
		n.metrics.Handshake(status)
		n.notifyEstablished(status)
	})
	n.mgr.OnDisconnect(func(info session.Info, reason session.Reason) {
		n.metrics.Disconnect(reason.String())
		util.LogInfo("[%08x] %s disconnected: %s", info.Tag, info.Remote, reason)
	})
	n.mgr.OnData(func(info session.Info, pkt protocol.Packet) {
		err := n.router.Route(ctx, info.ID, pkt)
		switch {
		case err == nil:
		case errors.Is(err, dispatch.ErrNoHandler):
			util.LogDebug("[%08x] no handler for %s", info.Tag, pkt.Name)
		default:
			util.LogWarning("[%08x] %v", info.Tag, err)
		}
	})
	n.mgr.SetValidator(func(info session.Info, req schema.Fields) uint32 {
		id := req.Uint32("serverId")
		if !n.cfg.Accepts(id) {
			return protocol.StatusNotWhitelisted
		}
		return protocol.StatusAccepted
	})
}

func (n *Node) notifyEstablished(status uint32) {
	select {
	case n.established <- status:
	default:
	}
}

// Manager exposes the session manager, mainly for the admin endpoint.
func (n *Node) Manager() *session.Manager { return n.mgr }

// Metrics exposes the node's collectors.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Close stops the transport worker.
func (n *Node) Close() error {
	return n.worker.Close()
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

// RunServer binds the configured address and serves sessions until ctx is
// cancelled.
func RunServer(ctx context.Context, cfg config.Config) error {
	bind, err := serverBind(ctx, cfg)
	if err != nil {
		return err
	}

	n, err := NewNode(ctx, cfg, bind)
	if err != nil {
		return err
	}
	defer n.Close()

	stopAdmin := startAdmin(cfg.Admin, n)
	defer stopAdmin()
	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}

	if err := n.mgr.Listen(); err != nil {
		return err
	}

	select {
	case <-n.worker.Bound():
		util.LogSuccess("serving h1emu sessions on %s", n.worker.LocalAddr())
	case <-ctx.Done():
	}

	return ignoreCanceled(n.mgr.Run(ctx))
}

// RunClient connects to the configured server, sends count zone pings and
// reports their round trip times. A count of zero keeps the session open
// until ctx is cancelled.
func RunClient(ctx context.Context, cfg config.Config, count int) error {
	bind, server, err := clientBind(ctx, cfg)
	if err != nil {
		return err
	}

	n, err := NewNode(ctx, cfg, bind)
	if err != nil {
		return err
	}
	defer n.Close()

	stopAdmin := startAdmin(cfg.Admin, n)
	defer stopAdmin()

	if cfg.Listen != "" {
		if err := n.mgr.Listen(); err != nil {
			return err
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- n.mgr.Run(ctx) }()

	var (
		id         session.ID
		connectErr error
	)
	if err := n.mgr.Do(ctx, func() {
		id, connectErr = n.mgr.Connect(server, schema.Fields{"serverId": cfg.ServerID})
	}); err != nil {
		return err
	}
	if connectErr != nil {
		return fmt.Errorf("connect %s: %w", server, connectErr)
	}

	handshake := time.NewTimer(cfg.PingTimeout)
	defer handshake.Stop()

	select {
	case status := <-n.established:
		if status != protocol.StatusAccepted {
			return fmt.Errorf("%w: status %d", ErrRefused, status)
		}
	case <-handshake.C:
		return fmt.Errorf("no session reply from %s within %s", server, cfg.PingTimeout)
	case err := <-runErr:
		return ignoreCanceled(err)
	}

	if count > 0 {
		if err := n.zonePing(ctx, id, count); err != nil {
			return err
		}
		if err := n.mgr.Do(ctx, n.mgr.Shutdown); err != nil {
			util.LogDebug("client: shutdown: %v", err)
		}
	}
	return ignoreCanceled(<-runErr)
}

// ErrRefused is returned by RunClient when the server rejects the session.
var ErrRefused = errors.New("session refused")

func serverBind(ctx context.Context, cfg config.Config) (transport.BindFunc, error) {
	if cfg.Link != config.LinkWebRTC {
		return transport.ListenUDP, nil
	}

	srv := signaling.NewServer(cfg.Signal, cfg.SignalToken)
	if _, err := srv.Start(); err != nil {
		return nil, err
	}
	defer srv.Close()

	peer, err := signaling.EstablishAsServer(ctx, srv, webrtc.Config{})
	if err != nil {
		return nil, err
	}
	return peerBind(peer), nil
}

func clientBind(ctx context.Context, cfg config.Config) (transport.BindFunc, netip.AddrPort, error) {
	if cfg.Link != config.LinkWebRTC {
		server, err := cfg.ServerAddr()
		return transport.ListenUDP, server, err
	}

	peer, err := signaling.EstablishAsClient(ctx, cfg.Signal, webrtc.Config{})
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	return peerBind(peer), peer.RemoteAddr(), nil
}

// peerBind hands an established peer to the worker as its link.
func peerBind(peer *webrtc.Peer) transport.BindFunc {
	return func(netip.AddrPort) (transport.Link, error) {
		return peer, nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
