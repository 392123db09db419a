// Package dispatch turns datagrams into named packets and routes them to
// handlers. It is the only place application code meets the wire format:
// handlers receive decoded packets and reply by name.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/1ureka/h1net/internal/protocol"
	"github.com/1ureka/h1net/internal/schema"
)

const tracerName = "github.com/1ureka/h1net/dispatch"

var ErrNoHandler = errors.New("dispatch: no handler")

// HandlerFunc handles one decoded packet from session id.
type HandlerFunc func(ctx context.Context, id uuid.UUID, pkt protocol.Packet) error

// Observer is told about every routed packet. The metrics package
// implements it.
type Observer interface {
	Routed(table protocol.TableID, name string)
	Unknown(table protocol.TableID, opcode uint32)
	Failed(table protocol.TableID, name string)
}

// Option configures a Router.
type Option func(*Router)

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// Router binds one table of a registry to a set of handlers. Handlers are
// registered before traffic starts; after that the Router is read-only.
type Router struct {
	reg   *protocol.Registry
	table protocol.TableID

	handlers map[string]HandlerFunc
	unknown  HandlerFunc

	tracer   trace.Tracer
	observer Observer
}

// New creates a router over the given table of reg.
func New(reg *protocol.Registry, table protocol.TableID, opts ...Option) (*Router, error) {
	if _, ok := reg.Table(table); !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownTable, table)
	}
	r := &Router{
		reg:      reg,
		table:    table,
		handlers: make(map[string]HandlerFunc),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Table reports which table the router decodes against.
func (r *Router) Table() protocol.TableID {
	return r.table
}

// Handle registers h for the named packet. The name must exist in the
// router's table.
func (r *Router) Handle(name string, h HandlerFunc) error {
	t, _ := r.reg.Table(r.table)
	if _, ok := t.Lookup(name); !ok {
		return fmt.Errorf("%w: %s", protocol.ErrUnknownPacket, name)
	}
	r.handlers[name] = h
	return nil
}

// HandleUnknown registers h for packets whose opcode did not resolve.
func (r *Router) HandleUnknown(h HandlerFunc) {
	r.unknown = h
}

// Decode decodes a datagram against the router's table.
func (r *Router) Decode(buf []byte) (protocol.Packet, error) {
	pkt, err := r.reg.Decode(r.table, buf)
	if err != nil && r.observer != nil {
		r.observer.Failed(r.table, pkt.Name)
	}
	return pkt, err
}

// Encode packs a named packet for sending.
func (r *Router) Encode(name string, fields schema.Fields) ([]byte, error) {
	return r.reg.Encode(r.table, name, fields)
}

// Dispatch decodes raw and routes the result.
func (r *Router) Dispatch(ctx context.Context, id uuid.UUID, raw []byte) error {
	pkt, err := r.Decode(raw)
	if err != nil {
		return err
	}
	return r.Route(ctx, id, pkt)
}

// Route hands pkt to its handler inside a span. Unknown packets go to the
// HandleUnknown handler and are dropped silently without one. A known
// packet without a handler returns ErrNoHandler.
func (r *Router) Route(ctx context.Context, id uuid.UUID, pkt protocol.Packet) error {
	name := pkt.Name
	if !pkt.Known() {
		name = "unknown"
	}

	ctx, span := r.tracer.Start(ctx, "dispatch "+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("h1net.table", string(r.table)),
			attribute.String("h1net.packet", name),
			attribute.Int64("h1net.opcode", int64(pkt.Type)),
			attribute.String("h1net.session_id", id.String()),
		),
	)
	defer span.End()

	var h HandlerFunc
	if pkt.Known() {
		h = r.handlers[pkt.Name]
		if r.observer != nil {
			r.observer.Routed(r.table, pkt.Name)
		}
	} else {
		h = r.unknown
		span.SetAttributes(attribute.Int("h1net.raw_len", len(pkt.Raw)))
		if r.observer != nil {
			r.observer.Unknown(r.table, pkt.Type)
		}
		if h == nil {
			return nil
		}
	}

	if h == nil {
		span.SetStatus(codes.Error, "no handler")
		return fmt.Errorf("%w: %s", ErrNoHandler, pkt.Name)
	}

	if err := h(ctx, id, pkt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("handle %s: %w", name, err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
