package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/1ureka/h1net/internal/util"
)

const signalPath = "/signal"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the server-side WebSocket endpoint used for signaling. It
// accepts one client at a time.
type Server struct {
	addr     string
	token    string
	listener net.Listener
	srv      *http.Server
	connCh   chan *websocket.Conn
}

// NewServer creates a signaling server for addr. A non-empty token must be
// presented by clients as the "token" query parameter.
func NewServer(addr, token string) *Server {
	return &Server{
		addr:   addr,
		token:  token,
		connCh: make(chan *websocket.Conn, 1),
	}
}

// Start begins listening. Returns the bound address.
func (s *Server) Start() (net.Addr, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start signaling server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(signalPath, s.handleWS)
	s.srv = &http.Server{Handler: mux}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogWarning("signaling server stopped: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// URL returns the address clients dial, including the token.
func (s *Server) URL() string {
	u := url.URL{Scheme: "ws", Host: s.listener.Addr().String(), Path: signalPath}
	if s.token != "" {
		u.RawQuery = url.Values{"token": {s.token}}.Encode()
	}
	return u.String()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.URL.Query().Get("token") != s.token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case s.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

// WaitForClient blocks until a client connects or ctx is cancelled.
func (s *Server) WaitForClient(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the listener.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}
