package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// httpServer serves a single handler until shut down.
type httpServer struct {
	ctx      context.Context
	server   *http.Server
	listener net.Listener
}

// start binds addr and serves in the background. Bind errors are returned.
func (s *httpServer) start(ctx context.Context, addr string, handler http.Handler, name string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ctx = ctx
	s.listener = listener
	s.server = &http.Server{Handler: c.Handler(handler)}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "server", name, "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *httpServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *httpServer) Shutdown() error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(s.ctx)
}

type HealthzServer struct {
	httpServer
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Handle).Methods(http.MethodGet, http.MethodHead)
	return h.start(ctx, addr, r, "healthz")
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

type MetricsServer struct {
	httpServer
}

func (m *MetricsServer) Start(ctx context.Context, addr string) error {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return m.start(ctx, addr, r, "metrics")
}
