package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/mosaicnetworks/mavnode/src/node"
	"github.com/mosaicnetworks/mavnode/src/peers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// Node is what the service reports on. Both node.Node and node.AsyncNode
// implement it.
type Node interface {
	GetStats() map[string]string
	Peers() []peers.Peer
	Connections() []node.ConnectionStats
}

// Service exposes a node's statistics over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        Node
	gatherer    prometheus.Gatherer
	logger      *logrus.Entry

	mux    *http.ServeMux
	server *http.Server
}

// NewService returns a service for n bound to bindAddress. /metrics is only
// served when gatherer is not nil.
func NewService(bindAddress string, n Node, gatherer prometheus.Gatherer, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		gatherer:    gatherer,
		logger:      logger,
		mux:         http.NewServeMux(),
	}

	service.registerHandlers()
	service.server = &http.Server{
		Addr:              bindAddress,
		Handler:           service.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &service
}

// registerHandlers registers the API handlers on the service's own mux, so
// several nodes can run in one process without clashing on the
// DefaultServeMux.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	s.mux.HandleFunc("/connections", s.makeHandler(s.GetConnections))
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the service's routes.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call that returns nil once
// Close was called, even if Close ran first.
func (s *Service) Serve() error {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		s.logger.Error(err)
	}
	return err
}

// Close shuts the HTTP server down. A later Serve returns right away.
func (s *Service) Close(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	s.encode(w, s.node.GetStats())
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	s.encode(w, s.node.Peers())
}

// GetConnections ...
func (s *Service) GetConnections(w http.ResponseWriter, r *http.Request) {
	s.encode(w, s.node.Connections())
}

func (s *Service) encode(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(w, jh)

	if err := enc.Encode(v); err != nil {
		s.logger.WithError(err).Error("Encoding response")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
