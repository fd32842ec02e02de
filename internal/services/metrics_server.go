package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MetricsServerService serves the Prometheus scrape endpoint. The handler
// runs concurrently with the poll loop; the registered collector guards its
// snapshot internally.
type MetricsServerService struct {
	port      int
	collector prometheus.Collector
	logger    zerolog.Logger

	server *http.Server
	wg     sync.WaitGroup
}

// NewMetricsServerService initializes a new MetricsServerService exposing the
// given collector.
func NewMetricsServerService(port int, collector prometheus.Collector, logger zerolog.Logger) *MetricsServerService {
	return &MetricsServerService{
		port:      port,
		collector: collector,
		logger:    logger,
	}
}

// Start registers the collector and begins serving /metrics.
func (m *MetricsServerService) Start() error {
	if m.server != nil {
		m.logger.Warn().Msg("MetricsServerService is already running")
		return errors.New("metrics server is already running")
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(m.collector); err != nil {
		return fmt.Errorf("failed to register collector: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", m.port),
		Handler: mux,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	m.logger.Info().Int("port", m.port).Msg("Prometheus metrics server started")
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (m *MetricsServerService) Stop() error {
	if m.server == nil {
		m.logger.Warn().Msg("MetricsServerService is not running")
		return errors.New("metrics server is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.server.Shutdown(ctx)
	m.wg.Wait()
	m.server = nil

	if err != nil {
		return err
	}

	m.logger.Info().Msg("MetricsServerService stopped successfully")
	return nil
}
