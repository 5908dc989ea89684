// Package prometheus serves the metrics and health endpoints of an agentnet
// daemon. The /metrics route exposes everything registered with the
// Prometheus DefaultRegisterer; /healthz aggregates the statuses of the
// node's service registry.
package prometheus

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/somnia-agents/agentnet/runtime"
)

var log = logrus.WithField("prefix", "prometheus")

// Service provides Prometheus metrics and health reporting over HTTP.
type Service struct {
	server      *http.Server
	svcRegistry *runtime.ServiceRegistry
	failStatus  error
}

// NewService sets up a new instance for a given address host:port. An empty
// host matches any IP, so an address like ":8080" is acceptable.
func NewService(addr string, svcRegistry *runtime.ServiceRegistry) *Service {
	s := &Service{svcRegistry: svcRegistry}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", s.healthzHandler)
	router.HandleFunc("/goroutinez", s.goroutinezHandler)
	s.server = &http.Server{Addr: addr, Handler: router}

	return s
}

func (s *Service) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	statuses := s.svcRegistry.Statuses()
	hasError := false
	var buf bytes.Buffer
	for kind, status := range statuses {
		text := "OK"
		if status != nil {
			hasError = true
			text = "ERROR " + status.Error()
		}
		if _, err := buf.WriteString(fmt.Sprintf("%s: %s\n", kind, text)); err != nil {
			hasError = true
		}
	}

	if hasError {
		w.WriteHeader(http.StatusInternalServerError)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Error("Could not write healthz body")
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	if _, err := w.Write(debug.Stack()); err != nil {
		log.WithError(err).Error("Could not write goroutine stack")
	}
	if err := pprof.Lookup("goroutine").WriteTo(w, 2); err != nil {
		log.WithError(err).Error("Could not write pprof goroutines")
	}
}

// Start the prometheus service.
func (s *Service) Start() {
	log.WithField("endpoint", s.server.Addr).Info("Starting service")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server failed")
			s.failStatus = err
		}
	}()
}

// Stop the service gracefully.
func (s *Service) Stop() error {
	log.Info("Stopping service")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports whether the server failed to come up.
func (s *Service) Status() error {
	return s.failStatus
}
