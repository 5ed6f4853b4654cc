package service

import (
	"context"
	"net"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrunner/metrics"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const (
	HealthzPort = 8080
)

// Config selects the servers to run. An empty address disables a server.
type Config struct {
	HealthzAddr string
	MetricsAddr string
}

// ConfigFromMetrics serves metrics on the configured address and the health
// check on the same host, both only when metrics are enabled.
func ConfigFromMetrics(cfg opmetrics.CLIConfig) Config {
	if !cfg.Enabled {
		return Config{}
	}
	return Config{
		HealthzAddr: net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(HealthzPort)),
		MetricsAddr: net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.ListenPort)),
	}
}

type Service struct {
	cfg     Config
	Healthz *HealthzServer
	Metrics *MetricsServer
}

func New(cfg Config) *Service {
	s := &Service{
		cfg:     cfg,
		Healthz: &HealthzServer{},
		Metrics: &MetricsServer{},
	}
	return s
}

// Start starts the configured servers. A server that fails to bind is
// logged and skipped; the test run does not depend on it.
func (s *Service) Start(ctx context.Context) {
	if s.cfg.HealthzAddr == "" && s.cfg.MetricsAddr == "" {
		log.Debug("service disabled")
		return
	}
	log.Info("service starting")

	if addr := s.cfg.HealthzAddr; addr != "" {
		log.Info("starting healthz server", "addr", addr)
		if err := s.Healthz.Start(ctx, addr); err != nil {
			log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("error starting healthz server", err)
		}
	}

	if addr := s.cfg.MetricsAddr; addr != "" {
		log.Info("starting metrics server", "addr", addr)
		if err := s.Metrics.Start(ctx, addr); err != nil {
			log.Error("error starting metrics server", "err", err)
			metrics.RecordErrorDetails("error starting metrics server", err)
		}
	}

	log.Info("service started")
}

func (s *Service) Shutdown() {
	_ = s.Healthz.Shutdown()
	_ = s.Metrics.Shutdown()
	log.Debug("service stopped")
}
