package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ctresc/peerfs/internal/logging"
	"go.uber.org/zap"
)

// registrationTTL is how long a peer's keepalive stays valid before it is
// dropped from the registry.
const registrationTTL = 2 * time.Minute

// registration is one peer's rendezvous entry: its address/port plus the
// time of its most recent keepalive.
type registration struct {
	Peer
	seenAt time.Time
}

// Server is the optional self-hosted rendezvous service
// (start_with_bootstrap_server), for a peer willing to act as the
// well-known meeting point for others.
type Server struct {
	mu      sync.Mutex
	peers   map[string]registration // keyed by Peer.Addr()
	log     *zap.Logger
	httpSrv *http.Server
}

// NewServer creates a rendezvous server.
func NewServer(addr string) *Server {
	s := &Server{
		peers: make(map[string]registration),
		log:   logging.L().Named("bootstrap-server"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ips", s.handleIPs)
	mux.HandleFunc("/keepalive", s.handleKeepalive)
	mux.HandleFunc("/deregister", s.handleDeregister)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks, serving the rendezvous API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleIPs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	now := time.Now()
	out := make([]Peer, 0, len(s.peers))
	for key, reg := range s.peers {
		if now.Sub(reg.seenAt) > registrationTTL {
			delete(s.peers, key)
			continue
		}
		out = append(out, reg.Peer)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleKeepalive(w http.ResponseWriter, r *http.Request) {
	var body Peer
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Address == "" || body.Port == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.peers[body.Addr()] = registration{Peer: body, seenAt: time.Now()}
	s.mu.Unlock()

	s.log.Debug("keepalive", zap.String("address", body.Address), zap.String("port", body.Port))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var body Peer
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Address == "" || body.Port == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	delete(s.peers, body.Addr())
	s.mu.Unlock()

	s.log.Debug("deregister", zap.String("address", body.Address), zap.String("port", body.Port))
	w.WriteHeader(http.StatusNoContent)
}
