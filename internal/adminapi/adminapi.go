// Package adminapi exposes read-only HTTP introspection for the gossip
// overlay: the current peer map and a peer-count summary.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cosmossdk.io/log"
	"github.com/gorilla/mux"

	"github.com/paw-chain/gossip-overlay/internal/gossip"
)

// Server serves /peers and /stats over the peer map snapshot.
type Server struct {
	logger log.Logger
	gossip *gossip.Gossip
	http   *http.Server
}

// New builds a Server bound to addr. Call Start to begin serving.
func New(logger log.Logger, g *gossip.Gossip, addr string) *Server {
	s := &Server{logger: logger, gossip: g}

	router := mux.NewRouter()
	router.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background. Errors after a successful
// listen are logged, not returned.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin api server stopped unexpectedly", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// GET /peers returns the current peer map as {connection_id: endpoint}.
func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	peers := s.gossip.GetPeers()
	out := make(map[string]string, len(peers))
	for connID, endpoint := range peers {
		out[string(connID)] = endpoint
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"peers": out,
		"count": len(out),
	})
}

// GET /stats returns a minimal peer-count summary.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"peer_count": s.gossip.PeerCount(),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
