package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	nberrors "github.com/rpi-update-ota/ota-agent/client/errors"
	"github.com/rpi-update-ota/ota-agent/client/internal/metrics"
	"github.com/rpi-update-ota/ota-agent/client/internal/observer"
	"github.com/rpi-update-ota/ota-agent/client/internal/session"
	"github.com/rpi-update-ota/ota-agent/client/internal/supervisor"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/client"
)

// Operation is one of the mutually exclusive agent operations
type Operation int

const (
	Initialize Operation = iota
	CheckForUpdate
	StartDownload
)

func (o Operation) String() string {
	switch o {
	case Initialize:
		return "initialize"
	case CheckForUpdate:
		return "check"
	case StartDownload:
		return "download"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Connector establishes the connection to the update service
type Connector interface {
	Connect(ctx context.Context, onChunk client.ChunkHandler, onError client.ErrorHandler) (client.Proxy, error)
}

// Config of the coordinator
type Config struct {
	Connector  Connector
	Engine     *session.Engine
	Dispatcher *observer.Dispatcher
	// CurrentVersion is asked for the installed version on every update check
	CurrentVersion func() uint32
	Metrics        *metrics.AgentMetrics
}

// Coordinator runs at most one operation at a time and reports every outcome to the observer
type Coordinator struct {
	cfg Config

	// mu orders the busy transitions with the events posted for them
	mu     sync.Mutex
	busy   atomic.Bool
	closed bool
	proxy  client.Proxy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new coordinator
func New(cfg Config) *Coordinator {
	if cfg.CurrentVersion == nil {
		cfg.CurrentVersion = func() uint32 { return 0 }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Busy reports whether an operation is running
func (c *Coordinator) Busy() bool {
	return c.busy.Load()
}

// Submit starts op on its own goroutine. It returns false without running op when
// another operation is in progress or the coordinator was shut down.
func (c *Coordinator) Submit(op Operation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		log.Debugf("rejecting %s, coordinator is shut down", op)
		return false
	}
	if c.busy.Load() {
		log.Debugf("rejecting %s, another operation is running", op)
		c.cfg.Metrics.OperationRejected(c.ctx, op.String())
		return false
	}

	c.busy.Store(true)
	c.post(func(o observer.Observer) { o.OnBusy(true) })

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finish(c.run(op))
	}()
	return true
}

// Initialize submits an Initialize operation
func (c *Coordinator) Initialize() bool {
	return c.Submit(Initialize)
}

// CheckForUpdate submits a CheckForUpdate operation
func (c *Coordinator) CheckForUpdate() bool {
	return c.Submit(CheckForUpdate)
}

// StartDownload submits a StartDownload operation
func (c *Coordinator) StartDownload() bool {
	return c.Submit(StartDownload)
}

// Shutdown rejects further operations, interrupts a running download and waits for
// the running operation to return. The dispatcher is left to the caller.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	var merr *multierror.Error

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		merr = multierror.Append(merr, fmt.Errorf("wait for running operation: %w", ctx.Err()))
	}

	c.mu.Lock()
	proxy := c.proxy
	c.proxy = nil
	c.mu.Unlock()
	if proxy != nil {
		if err := proxy.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("close proxy: %w", err))
		}
	}

	return nberrors.FormatErrorOrNil(merr)
}

func (c *Coordinator) run(op Operation) observer.Event {
	log.Debugf("running %s", op)
	switch op {
	case Initialize:
		return c.initialize()
	case CheckForUpdate:
		return c.checkForUpdate()
	case StartDownload:
		return c.download()
	default:
		msg := fmt.Sprintf("unknown operation %s", op)
		return func(o observer.Observer) { o.OnError(msg) }
	}
}

// finish posts the outcome and the busy flip as one unit, so an observer reacting
// to OnBusy(false) can submit the next operation right away
func (c *Coordinator) finish(outcome observer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.post(outcome)
	c.post(func(o observer.Observer) { o.OnBusy(false) })
	c.busy.Store(false)
}

func (c *Coordinator) initialize() observer.Event {
	engine := c.cfg.Engine
	proxy, err := c.cfg.Connector.Connect(c.ctx, engine.Enqueue, engine.EnqueueError)
	if err != nil {
		msg := err.Error()
		var connectErr *supervisor.ConnectError
		if errors.As(err, &connectErr) {
			msg = connectErr.Cause
		}
		log.Errorf("initialization failed: %v", err)
		return func(o observer.Observer) { o.OnError(msg) }
	}

	c.mu.Lock()
	previous := c.proxy
	c.proxy = proxy
	c.mu.Unlock()
	if previous != nil {
		if err := previous.Close(); err != nil {
			log.Debugf("failed closing previous proxy: %v", err)
		}
	}

	engine.SetProxy(proxy)
	return func(o observer.Observer) { o.OnServerConnected(true) }
}

func (c *Coordinator) checkForUpdate() observer.Event {
	c.post(func(o observer.Observer) { o.OnUpdateCheckStarted() })

	current := c.cfg.CurrentVersion()
	res, err := c.cfg.Engine.QueryUpdate(c.ctx, current)
	if err != nil {
		msg := checkErrorMessage(err)
		log.Errorf("update check failed: %v", err)
		return func(o observer.Observer) { o.OnError(msg) }
	}

	c.cfg.Metrics.UpdateChecked(c.ctx, res.Check.String())
	return func(o observer.Observer) { o.OnUpdateCheckDone(res.Check) }
}

func (c *Coordinator) download() observer.Event {
	engine := c.cfg.Engine
	started := time.Now()

	if err := engine.StartDownload(c.ctx); err != nil {
		if errors.Is(err, session.ErrNotReady) {
			msg := checkErrorMessage(err)
			log.Errorf("download not started: %v", err)
			c.cfg.Metrics.DownloadFinished(c.ctx, "failed", time.Since(started))
			return func(o observer.Observer) { o.OnError(msg) }
		}
		log.Warnf("download rejected: %v", err)
		c.cfg.Metrics.DownloadFinished(c.ctx, "rejected", time.Since(started))
		return func(o observer.Observer) { o.OnDownloadRejected() }
	}

	var written uint64
	err := engine.Await(c.ctx, func(p session.Progress) {
		c.cfg.Metrics.ChunkReceived(c.ctx, int(p.BytesWritten-written))
		written = p.BytesWritten

		c.post(func(o observer.Observer) {
			o.OnProgress(p.Percent)
			o.OnSpeed(p.SpeedMbps)
			o.OnChunkInfo(p.Received, p.Total)
		})
	})

	switch {
	case err == nil:
		c.cfg.Metrics.DownloadFinished(c.ctx, "completed", time.Since(started))
		return func(o observer.Observer) { o.OnDownloadFinished(true) }
	case c.ctx.Err() != nil && errors.Is(err, c.ctx.Err()):
		log.Infof("download interrupted by shutdown")
		c.cfg.Metrics.DownloadFinished(context.Background(), "interrupted", time.Since(started))
		return func(o observer.Observer) { o.OnDownloadFinished(false) }
	default:
		msg := err.Error()
		c.cfg.Metrics.DownloadFinished(c.ctx, "failed", time.Since(started))
		return func(o observer.Observer) { o.OnError(msg) }
	}
}

func (c *Coordinator) post(ev observer.Event) {
	if c.cfg.Dispatcher == nil {
		return
	}
	c.cfg.Dispatcher.Post(ev)
}

func checkErrorMessage(err error) string {
	var callErr *session.CallFailedError
	switch {
	case errors.Is(err, session.ErrNotReady):
		return "Service not available"
	case errors.As(err, &callErr):
		return callErr.Error()
	default:
		return err.Error()
	}
}
