package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/1ureka/h1net/internal/util"
)

const (
	defaultInboxSize   = 1024
	defaultOutboxSize  = 256
	defaultMaxDatagram = 512
	readBufferSize     = 64 * 1024
)

var (
	ErrQueueFull = errors.New("transport: command queue full")
	ErrClosed    = errors.New("transport: worker closed")
	ErrTooLarge  = errors.New("transport: datagram exceeds maximum size")
)

// Config configures a Worker. Zero values select the defaults.
type Config struct {
	Bind BindFunc       // default ListenUDP
	Addr netip.AddrPort // local address used by a Bind command

	InboxSize   int // inbound datagrams buffered before dropping
	OutboxSize  int // commands buffered before Post fails
	MaxDatagram int // largest datagram Post accepts for sending

	// Rate limits accepted inbound datagrams per second. Zero disables
	// the limiter. Burst defaults to Rate.
	Rate  float64
	Burst int
}

func (c Config) withDefaults() Config {
	if c.Bind == nil {
		c.Bind = ListenUDP
	}
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = defaultOutboxSize
	}
	if c.MaxDatagram <= 0 {
		c.MaxDatagram = defaultMaxDatagram
	}
	if c.Rate > 0 && c.Burst <= 0 {
		c.Burst = max(1, int(c.Rate))
	}
	return c
}

// Worker owns one Link. The socket is only touched by the worker's command
// goroutine (bind, send, close) and its read goroutine; everything else
// reaches it through Post and Inbound.
//
// The inbound queue is bounded. When it is full, or the rate limiter says
// no, the newest datagram is dropped and counted.
type Worker struct {
	cfg     Config
	cmds    chan Envelope
	inbox   chan Envelope
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	link  Link
	local netip.AddrPort
	bound chan struct{}

	dropped atomic.Uint64
}

// NewWorker starts a worker. The socket is not opened until a Bind command
// arrives or the first packet is sent. The worker stops when ctx is
// cancelled, a Close command is processed, or Close is called.
func NewWorker(ctx context.Context, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	wCtx, wCancel := context.WithCancel(ctx)

	w := &Worker{
		cfg:    cfg,
		cmds:   make(chan Envelope, cfg.OutboxSize),
		inbox:  make(chan Envelope, cfg.InboxSize),
		ctx:    wCtx,
		cancel: wCancel,
		done:   make(chan struct{}),
		bound:  make(chan struct{}),
	}
	if cfg.Rate > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	}

	go w.run()
	return w
}

// ---------------------------------------------------------------------------
// Owner side
// ---------------------------------------------------------------------------

// Post hands a command to the worker without blocking. The envelope's data
// is copied.
func (w *Worker) Post(env Envelope) error {
	if env.Type == SendPacket && len(env.Data) > w.cfg.MaxDatagram {
		return ErrTooLarge
	}
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	env.Data = append([]byte(nil), env.Data...)
	select {
	case w.cmds <- env:
		return nil
	default:
		if env.Type == Close {
			w.cancel()
			return nil
		}
		return ErrQueueFull
	}
}

// Inbound delivers IncomingPacket envelopes in arrival order.
func (w *Worker) Inbound() <-chan Envelope {
	return w.inbox
}

// Bound is closed once the socket is open.
func (w *Worker) Bound() <-chan struct{} {
	return w.bound
}

// Done is closed once the worker has released its socket.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// LocalAddr returns the bound address, or the zero value before binding.
func (w *Worker) LocalAddr() netip.AddrPort {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.local
}

// Dropped returns how many inbound datagrams were discarded.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops the worker and waits for the socket to be released.
func (w *Worker) Close() error {
	w.cancel()
	<-w.done
	return nil
}

// ---------------------------------------------------------------------------
// Command loop
// ---------------------------------------------------------------------------

func (w *Worker) run() {
	defer close(w.done)
	defer w.release()

	for {
		select {
		case env := <-w.cmds:
			if !w.handle(env) {
				return
			}
		case <-w.ctx.Done():
			return
		}
	}
}

// handle processes one command and reports whether the loop continues.
func (w *Worker) handle(env Envelope) bool {
	switch env.Type {
	case Bind:
		if err := w.bind(w.cfg.Addr); err != nil {
			util.LogError("%v", err)
		}

	case SendPacket:
		if w.current() == nil {
			if err := w.bind(netip.AddrPort{}); err != nil {
				util.LogError("%v", err)
				return true
			}
		}
		if _, err := w.current().WriteTo(env.Data, env.Remote); err != nil {
			util.LogWarning("failed to send %d bytes to %s: %v", len(env.Data), env.Remote, err)
			return true
		}
		util.Stats.AddSent(len(env.Data))

	case Close:
		util.LogDebug("transport: close requested")
		return false

	default:
		util.LogWarning("transport: ignoring %s envelope", env.Type)
	}
	return true
}

func (w *Worker) current() Link {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.link
}

func (w *Worker) bind(addr netip.AddrPort) error {
	if w.current() != nil {
		util.LogDebug("transport: already bound to %s", w.LocalAddr())
		return nil
	}

	link, err := w.cfg.Bind(addr)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.link = link
	w.local = link.LocalAddr()
	w.mu.Unlock()
	close(w.bound)

	util.LogInfo("transport bound to %s", link.LocalAddr())
	go w.read(link)
	return nil
}

func (w *Worker) release() {
	w.cancel()
	if link := w.current(); link != nil {
		if err := link.Close(); err != nil {
			util.LogDebug("transport: close link: %v", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Read loop
// ---------------------------------------------------------------------------

func (w *Worker) read(link Link) {
	buf := make([]byte, readBufferSize)
	for {
		n, from, err := link.ReadFrom(buf)
		if err != nil {
			if w.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			util.LogDebug("transport: read error: %v", err)
			continue
		}
		util.Stats.AddRecv(n)

		if w.limiter != nil && !w.limiter.Allow() {
			w.drop()
			continue
		}

		env := Envelope{
			Type:   IncomingPacket,
			Data:   append([]byte(nil), buf[:n]...),
			Remote: from,
		}
		select {
		case w.inbox <- env:
		default:
			w.drop()
		}
	}
}

func (w *Worker) drop() {
	w.dropped.Add(1)
	util.Stats.AddDropped()
}
