package client

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// QuorumServer exposes a runner's quorum probe endpoint to its subcommittee
// peers.
type QuorumServer struct {
	server     *http.Server
	failStatus error
}

// NewQuorumServer builds the probe server for a runner on the given listen
// address.
func NewQuorumServer(addr string, v *ValidatorService) *QuorumServer {
	router := mux.NewRouter()
	NewQuorumHandler(v).RegisterRoutes(router)
	return &QuorumServer{
		server: &http.Server{Addr: addr, Handler: router},
	}
}

// Start begins serving quorum probes.
func (s *QuorumServer) Start() {
	log.WithField("endpoint", s.server.Addr).Info("Starting quorum probe server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Quorum probe server failed")
			s.failStatus = err
		}
	}()
}

// Stop shuts the probe server down gracefully.
func (s *QuorumServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports whether the listener failed.
func (s *QuorumServer) Status() error {
	return s.failStatus
}
