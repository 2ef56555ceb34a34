package cmd

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rpi-update-ota/ota-agent/client/internal/config"
	"github.com/rpi-update-ota/ota-agent/client/internal/coordinator"
	"github.com/rpi-update-ota/ota-agent/client/internal/metrics"
	"github.com/rpi-update-ota/ota-agent/client/internal/observer"
	"github.com/rpi-update-ota/ota-agent/client/internal/session"
	"github.com/rpi-update-ota/ota-agent/client/internal/supervisor"
	"github.com/rpi-update-ota/ota-agent/client/internal/telemetry"
	"github.com/rpi-update-ota/ota-agent/client/internal/versionfile"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/client"
	sharedmetrics "github.com/rpi-update-ota/ota-agent/shared/metrics"
)

const agentShutdownTimeout = 10 * time.Second

// agent wires the update components of one process together
type agent struct {
	cfg *config.Config

	metricsServer *sharedmetrics.Metrics
	dispatcher    *observer.Dispatcher
	coordinator   *coordinator.Coordinator
	sampler       *telemetry.Sampler
}

func newAgent(ctx context.Context, cfg *config.Config, obs observer.Observer) (*agent, error) {
	versionPath := cfg.VersionPath()
	if err := versionfile.Bootstrap(ctx, versionPath); err != nil {
		log.Warnf("failed to bootstrap version file %s: %v", versionPath, err)
	}

	a := &agent{cfg: cfg}

	var agentMetrics *metrics.AgentMetrics
	if cfg.Metrics.Port > 0 {
		srv, err := sharedmetrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), cfg.Metrics.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("metrics server: %w", err)
		}
		agentMetrics, err = metrics.NewAgentMetrics(srv.Meter)
		if err != nil {
			return nil, fmt.Errorf("agent metrics: %w", err)
		}
		a.metricsServer = srv
	}

	a.dispatcher = observer.NewDispatcher(obs)

	engine := session.NewEngine(session.Config{
		OutputPath:   cfg.OutputPath(),
		TransferName: cfg.Storage.TransferName,
	})

	builder := &client.Builder{
		Address:     cfg.Server.Address,
		TLSEnabled:  cfg.Server.TLS,
		CallTimeout: cfg.Server.CallTimeout,
	}
	sup := supervisor.NewSupervisor(builder, supervisor.Config{
		Domain:           cfg.Server.Domain,
		ServiceID:        cfg.Server.ServiceID,
		Instance:         cfg.Server.Instance,
		BuildAttempts:    cfg.Connect.BuildAttempts,
		LivenessAttempts: cfg.Connect.LivenessAttempts,
		Interval:         cfg.Connect.Interval,
	}, agentMetrics)

	a.coordinator = coordinator.New(coordinator.Config{
		Connector:  sup,
		Engine:     engine,
		Dispatcher: a.dispatcher,
		CurrentVersion: func() uint32 {
			return versionfile.Read(versionPath)
		},
		Metrics: agentMetrics,
	})

	dispatcher := a.dispatcher
	a.sampler = telemetry.NewSampler(telemetry.Config{
		Interval:    cfg.Telemetry.Interval,
		StoragePath: cfg.Telemetry.StoragePath,
		Metrics:     agentMetrics,
		Publish: func(snapshot telemetry.Snapshot) {
			dispatcher.Post(func(o observer.Observer) { o.OnTelemetry(snapshot) })
		},
	}, &telemetry.SystemSource{ThermalPath: cfg.Telemetry.ThermalPath})

	return a, nil
}

// serve runs the telemetry sampler and the metrics endpoint until ctx is done
func (a *agent) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.sampler.Run(gctx)
		return nil
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			return a.metricsServer.Serve(gctx)
		})
	}
	return g.Wait()
}

// shutdown joins the running operation and flushes the pending observer events
func (a *agent) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), agentShutdownTimeout)
	defer cancel()

	err := a.coordinator.Shutdown(ctx)
	a.dispatcher.Close()
	if err != nil {
		return fmt.Errorf("agent shutdown: %w", err)
	}
	log.Debugf("agent stopped")
	return nil
}
