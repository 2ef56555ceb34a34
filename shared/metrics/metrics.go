package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"time"

	prometheus2 "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

const (
	defaultEndpoint = "/metrics"
	shutdownTimeout = 5 * time.Second
)

// Metrics holds the meter of the agent and the HTTP server exposing it in the prometheus format
type Metrics struct {
	Meter    api.Meter
	provider *metric.MeterProvider
	Endpoint string

	*http.Server
}

// NewServer initializes a meter backed by a dedicated prometheus registry. The server listens on
// addr and exposes the registry at endpoint.
func NewServer(addr string, endpoint string) (*Metrics, error) {
	registry := prometheus2.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	pkg := reflect.TypeOf(defaultEndpoint).PkgPath()
	meter := provider.Meter(pkg)

	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	router := http.NewServeMux()
	router.Handle(endpoint, promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true}))

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Metrics{
		Meter:    meter,
		provider: provider,
		Endpoint: endpoint,
		Server:   server,
	}, nil
}

// Serve listens on the configured address until ctx is done
func (m *Metrics) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.Addr, err)
	}
	return m.ServeListener(ctx, listener)
}

// ServeListener serves on listener until ctx is done, then shuts the server and the meter provider down
func (m *Metrics) ServeListener(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("metrics available at http://%s%s", listener.Addr(), m.Endpoint)
		errCh <- m.Server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return m.Shutdown(shutdownCtx)
}

// Shutdown stops the metrics server
func (m *Metrics) Shutdown(ctx context.Context) error {
	if err := m.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider: %w", err)
	}

	return nil
}
