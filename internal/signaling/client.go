package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// connect dials the signaling URL, e.g.
//
//	ws://203.0.113.5:8443/signal?token=secret
func connect(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	return conn, nil
}
