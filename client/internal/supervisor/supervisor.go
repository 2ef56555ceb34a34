package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/rpi-update-ota/ota-agent/client/internal/metrics"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/client"
)

const (
	DefaultBuildAttempts    = 30
	DefaultLivenessAttempts = 30
	DefaultInterval         = time.Second

	phaseBuild     = "build"
	phaseLiveness  = "liveness"
	phaseSubscribe = "subscribe"
)

var (
	// ErrProxyUnavailable is returned when no proxy could be built within the attempt budget
	ErrProxyUnavailable = errors.New("proxy unavailable")
	// ErrServiceTimeout is returned when the service never reported itself live
	ErrServiceTimeout = errors.New("service timeout")
	// ErrSubscribeFailed is returned when the chunk event subscription was refused
	ErrSubscribeFailed = errors.New("chunk subscription failed")

	errNotServing = errors.New("service not serving")
)

// ConnectError carries the failed phase and a message meant for the user
type ConnectError struct {
	Err      error
	Cause    string
	Attempts int
	Last     error
}

func (e *ConnectError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%v after %d attempts", e.Err, e.Attempts)
	}
	return fmt.Sprintf("%v after %d attempts: %v", e.Err, e.Attempts, e.Last)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Config of the connection supervisor
type Config struct {
	Domain    string
	ServiceID string
	Instance  string

	BuildAttempts    int
	LivenessAttempts int
	Interval         time.Duration
}

// Supervisor establishes the connection to the update service with a bounded number of attempts
type Supervisor struct {
	builder client.ProxyBuilder
	cfg     Config
	metrics *metrics.AgentMetrics
}

// NewSupervisor creates a new supervisor. agentMetrics may be nil.
func NewSupervisor(builder client.ProxyBuilder, cfg Config, agentMetrics *metrics.AgentMetrics) *Supervisor {
	if cfg.BuildAttempts <= 0 {
		cfg.BuildAttempts = DefaultBuildAttempts
	}
	if cfg.LivenessAttempts <= 0 {
		cfg.LivenessAttempts = DefaultLivenessAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Supervisor{
		builder: builder,
		cfg:     cfg,
		metrics: agentMetrics,
	}
}

// Connect builds a proxy, waits for the service to become live and subscribes the
// handlers to chunk events. The subscription lives as long as the returned proxy.
func (s *Supervisor) Connect(ctx context.Context, onChunk client.ChunkHandler, onError client.ErrorHandler) (client.Proxy, error) {
	proxy, err := s.buildProxy(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.awaitLiveness(ctx, proxy); err != nil {
		closeProxy(proxy)
		return nil, err
	}

	if err := proxy.SubscribeChunks(ctx, onChunk, onError); err != nil {
		s.metrics.ConnectAttempt(ctx, phaseSubscribe, false)
		closeProxy(proxy)
		return nil, &ConnectError{
			Err:      ErrSubscribeFailed,
			Cause:    "Failed to subscribe to update events",
			Attempts: 1,
			Last:     err,
		}
	}
	s.metrics.ConnectAttempt(ctx, phaseSubscribe, true)

	log.Infof("connected to %s/%s as %s", s.cfg.Domain, s.cfg.ServiceID, s.cfg.Instance)
	return proxy, nil
}

func (s *Supervisor) buildProxy(ctx context.Context) (client.Proxy, error) {
	var (
		proxy    client.Proxy
		attempts int
	)

	operation := func() error {
		attempts++
		p, err := s.builder.BuildProxy(s.cfg.Domain, s.cfg.ServiceID, s.cfg.Instance)
		if err != nil {
			s.metrics.ConnectAttempt(ctx, phaseBuild, false)
			log.Debugf("building proxy, attempt %d/%d: %v", attempts, s.cfg.BuildAttempts, err)
			return err
		}
		s.metrics.ConnectAttempt(ctx, phaseBuild, true)
		proxy = p
		return nil
	}

	if err := backoff.Retry(operation, s.backOff(ctx, s.cfg.BuildAttempts)); err != nil {
		log.Errorf("failed to build proxy after %d attempts: %v", attempts, err)
		return nil, &ConnectError{
			Err:      ErrProxyUnavailable,
			Cause:    "Failed to build proxy",
			Attempts: attempts,
			Last:     err,
		}
	}
	return proxy, nil
}

func (s *Supervisor) awaitLiveness(ctx context.Context, proxy client.Proxy) error {
	var attempts int

	operation := func() error {
		attempts++
		if !proxy.IsAvailable(ctx) {
			s.metrics.ConnectAttempt(ctx, phaseLiveness, false)
			log.Debugf("waiting for service, attempt %d/%d", attempts, s.cfg.LivenessAttempts)
			return errNotServing
		}
		s.metrics.ConnectAttempt(ctx, phaseLiveness, true)
		return nil
	}

	if err := backoff.Retry(operation, s.backOff(ctx, s.cfg.LivenessAttempts)); err != nil {
		log.Errorf("service %s not available after %d attempts: %v", s.cfg.ServiceID, attempts, err)
		return &ConnectError{
			Err:      ErrServiceTimeout,
			Cause:    "Service not available. Ensure server is running.",
			Attempts: attempts,
			Last:     err,
		}
	}
	return nil
}

// backOff allows the given number of attempts in total, one per interval
func (s *Supervisor) backOff(ctx context.Context, attempts int) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.Interval), uint64(attempts-1)),
		ctx,
	)
}

func closeProxy(p client.Proxy) {
	if err := p.Close(); err != nil {
		log.Debugf("failed closing proxy: %v", err)
	}
}
