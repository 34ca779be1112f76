package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/compozy/codeassist/engine/tracker"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Service owns the metrics registry and the optional exporter endpoint
type Service struct {
	registry    *prometheus.Registry
	metrics     *tracker.Metrics
	config      *Config
	server      *http.Server
	listener    net.Listener
	initialized bool
}

// NewMonitoringService creates the registry and tracker metrics. When disabled
// the service still hands out a nil *tracker.Metrics that records nothing.
func NewMonitoringService(ctx context.Context, cfg *Config) (*Service, error) {
	log := logger.FromContext(ctx)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		log.Debug("Monitoring disabled")
		return &Service{config: cfg}, nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := tracker.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return &Service{
		registry:    registry,
		metrics:     metrics,
		config:      cfg,
		initialized: true,
	}, nil
}

// Metrics returns the tracker metrics, nil when disabled
func (s *Service) Metrics() *tracker.Metrics {
	return s.metrics
}

// ExporterHandler returns an HTTP handler for the metrics endpoint
func (s *Service) ExporterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("Monitoring service not initialized")); err != nil {
				logger.FromContext(r.Context()).Error("Failed to write response", "error", err)
			}
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Start listens on the configured address and serves the exporter until
// Shutdown. It is a no-op when disabled.
func (s *Service) Start(ctx context.Context) error {
	if !s.initialized || s.config.Addr == "" {
		return nil
	}
	log := logger.FromContext(ctx)
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, s.ExporterHandler())
	s.listener = ln
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped", "error", err)
		}
	}()
	log.Info("Serving metrics", "addr", ln.Addr().String(), "path", s.config.Path)
	return nil
}

// Addr is the bound listener address once started
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the exporter endpoint
func (s *Service) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// IsInitialized returns whether metrics are being recorded
func (s *Service) IsInitialized() bool {
	return s.initialized
}

// NewMonitoringServiceWithFallback never fails; an invalid config yields a
// disabled service and an error log.
func NewMonitoringServiceWithFallback(ctx context.Context, cfg *Config) *Service {
	service, err := NewMonitoringService(ctx, cfg)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to initialize monitoring, metrics disabled", "error", err)
		if cfg == nil {
			cfg = DefaultConfig()
		}
		return &Service{config: cfg}
	}
	return service
}
