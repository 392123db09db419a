package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/h1net/internal/protocol"
	"github.com/1ureka/h1net/internal/schema"
	"github.com/1ureka/h1net/internal/util"
)

const zonePingTimeout = 5 * time.Second

// registerHandlers installs the inter-server packet handlers. They run on
// the manager's loop, so replying through the manager is safe.
func (n *Node) registerHandlers() error {
	handlers := map[string]func(ctx context.Context, id uuid.UUID, pkt protocol.Packet) error{
		"ZonePingRequest": func(_ context.Context, id uuid.UUID, pkt protocol.Packet) error {
			return n.mgr.Send(id, "ZonePingReply", schema.Fields{
				"reqId":  pkt.Fields.Uint32("reqId"),
				"status": true,
			})
		},
		"ZonePingReply": func(_ context.Context, _ uuid.UUID, pkt protocol.Packet) error {
			n.pings.complete(pkt.Fields.Uint32("reqId"), pkt.Fields.Bool("status"))
			return nil
		},
		"UpdateZonePopulation": func(_ context.Context, id uuid.UUID, pkt protocol.Packet) error {
			util.LogInfo("session %s reports population %d", id, pkt.Fields.Uint32("population"))
			return nil
		},
		"Ack": func(context.Context, uuid.UUID, protocol.Packet) error {
			return nil
		},
	}

	for name, h := range handlers {
		if err := n.router.Handle(name, h); err != nil {
			return err
		}
	}
	n.router.HandleUnknown(func(_ context.Context, id uuid.UUID, pkt protocol.Packet) error {
		util.LogDebug("session %s sent unknown opcode 0x%02x (%d bytes)", id, pkt.Type, len(pkt.Raw))
		return nil
	})
	return nil
}

// zonePing sends count ZonePingRequests one second apart and logs each
// round trip.
func (n *Node) zonePing(ctx context.Context, id uuid.UUID, count int) error {
	var received int
	var total time.Duration

	for i := 1; i <= count; i++ {
		reqID := uint32(i)
		wait := n.pings.expect(reqID)
		start := time.Now()

		var sendErr error
		if err := n.mgr.Do(ctx, func() {
			sendErr = n.mgr.Send(id, "ZonePingRequest", schema.Fields{
				"reqId":   reqID,
				"address": n.worker.LocalAddr().String(),
			})
		}); err != nil {
			return err
		}
		if sendErr != nil {
			return fmt.Errorf("zone ping %d: %w", reqID, sendErr)
		}

		select {
		case ok := <-wait:
			rtt := time.Since(start)
			received++
			total += rtt
			util.LogInfo("zone ping reqId=%d status=%t time=%s", reqID, ok, rtt.Round(time.Microsecond))
		case <-time.After(zonePingTimeout):
			n.pings.forget(reqID)
			util.LogWarning("zone ping reqId=%d timed out", reqID)
		case <-ctx.Done():
			return ctx.Err()
		}

		if i < count {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if received == 0 {
		util.LogWarning("zone ping: %d sent, 0 received", count)
		return nil
	}
	util.LogSuccess("zone ping: %d sent, %d received, avg %s", count, received, (total / time.Duration(received)).Round(time.Microsecond))
	return nil
}

// pingTracker matches ZonePingReplies to outstanding requests.
type pingTracker struct {
	mu      sync.Mutex
	waiting map[uint32]chan bool
}

func newPingTracker() *pingTracker {
	return &pingTracker{waiting: make(map[uint32]chan bool)}
}

func (t *pingTracker) expect(reqID uint32) <-chan bool {
	ch := make(chan bool, 1)
	t.mu.Lock()
	t.waiting[reqID] = ch
	t.mu.Unlock()
	return ch
}

func (t *pingTracker) complete(reqID uint32, status bool) {
	t.mu.Lock()
	ch, ok := t.waiting[reqID]
	delete(t.waiting, reqID)
	t.mu.Unlock()
	if ok {
		ch <- status
	}
}

func (t *pingTracker) forget(reqID uint32) {
	t.mu.Lock()
	delete(t.waiting, reqID)
	t.mu.Unlock()
}
