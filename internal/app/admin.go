package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/1ureka/h1net/internal/session"
	"github.com/1ureka/h1net/internal/util"
)

type sessionView struct {
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	Tag       string    `json:"tag"`
	State     string    `json:"state"`
	Initiator bool      `json:"initiator"`
	Status    uint32    `json:"status"`
	LastSeen  time.Time `json:"lastSeen"`
}

// adminHandler serves /metrics, /debug/log and /debug/sessions.
func adminHandler(n *Node) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", n.metrics.Handler())

	mux.HandleFunc("/debug/log", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := util.LogDump(w); err != nil {
			util.LogDebug("admin: dump log: %v", err)
		}
	})

	mux.HandleFunc("/debug/sessions", func(w http.ResponseWriter, r *http.Request) {
		var infos []session.Info
		if err := n.mgr.Do(r.Context(), func() { infos = n.mgr.Sessions() }); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		views := make([]sessionView, 0, len(infos))
		for _, info := range infos {
			views = append(views, sessionView{
				ID:        info.ID.String(),
				Remote:    info.Remote.String(),
				Tag:       fmt.Sprintf("%08x", info.Tag),
				State:     info.State.String(),
				Initiator: info.Initiator,
				Status:    info.Status,
				LastSeen:  info.LastSeen,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			util.LogDebug("admin: encode sessions: %v", err)
		}
	})

	return mux
}

// startAdmin serves the admin endpoints on addr in the background. The
// returned function stops the server. An empty addr disables it.
func startAdmin(addr string, n *Node) func() {
	if addr == "" {
		return func() {}
	}

	srv := &http.Server{Addr: addr, Handler: adminHandler(n)}
	go func() {
		util.LogInfo("admin endpoint on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("admin endpoint: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			util.LogDebug("admin: shutdown: %v", err)
		}
	}
}
