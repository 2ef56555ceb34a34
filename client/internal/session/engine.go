package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/client"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/rpc"
)

// queueSize bounds the chunks buffered between the stream goroutine and the download worker
const queueSize = 32

// SinkOpener opens the output file of a download session
type SinkOpener func(path string) (io.WriteCloser, error)

// Config of the session engine
type Config struct {
	// OutputPath is where the downloaded image is written
	OutputPath string
	// TransferName is sent to the service when a transfer is requested
	TransferName string
	// ChunkSize defaults to rpc.ChunkSize
	ChunkSize uint64
	// OpenSink defaults to truncating OutputPath
	OpenSink SinkOpener
	// Now defaults to time.Now
	Now func() time.Time
}

type event struct {
	index uint32
	data  []byte
	last  bool
	err   error
}

// queue carries the chunk events of one download session to the download worker
type queue struct {
	events chan event
	done   chan struct{}
	once   sync.Once
}

func newQueue() *queue {
	return &queue{
		events: make(chan event, queueSize),
		done:   make(chan struct{}),
	}
}

func (q *queue) push(ev event) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.events <- ev:
		return true
	case <-q.done:
		return false
	}
}

func (q *queue) close() {
	q.once.Do(func() { close(q.done) })
}

// Engine owns the update descriptor and the download session. Every method that
// mutates the session is meant to be called from a single worker goroutine at a time,
// chunk events coming from the transport are handed over via Enqueue and consumed by Await.
type Engine struct {
	cfg Config

	mu         sync.Mutex
	proxy      client.Proxy
	descriptor Descriptor
	check      CheckResult
	active     *queue
	// streamErr is the error that ended the chunk subscription of the installed proxy
	streamErr error

	transfer TransferState
	state    State
	sink     io.WriteCloser
}

// NewEngine creates a new session engine
func NewEngine(cfg Config) *Engine {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = rpc.ChunkSize
	}
	if cfg.TransferName == "" {
		cfg.TransferName = "update.bin"
	}
	if cfg.OpenSink == nil {
		cfg.OpenSink = openFile
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:   cfg,
		check: CheckError,
	}
}

func openFile(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// SetProxy installs the proxy handed over by the connection supervisor together
// with its fresh chunk subscription
func (e *Engine) SetProxy(p client.Proxy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proxy = p
	e.streamErr = nil
}

// currentProxy returns the installed proxy, or ErrNotReady when there is none or
// its chunk subscription has ended
func (e *Engine) currentProxy() (client.Proxy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proxy, e.readyErr()
}

func (e *Engine) readyErr() error {
	if e.proxy == nil {
		return fmt.Errorf("%w: backend is not initialized", ErrNotReady)
	}
	if e.streamErr != nil {
		return fmt.Errorf("%w: chunk stream closed: %v", ErrNotReady, e.streamErr)
	}
	return nil
}

// Descriptor returns the descriptor of the last successful version query and its classification
func (e *Engine) Descriptor() (Descriptor, CheckResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.descriptor, e.check
}

// QueryUpdate asks the service whether an image newer than current exists
func (e *Engine) QueryUpdate(ctx context.Context, current uint32) (Result, error) {
	proxy, err := e.currentProxy()
	if err != nil {
		return Result{}, err
	}
	if !proxy.IsAvailable(ctx) {
		return Result{}, ErrNotReady
	}

	info, err := proxy.QueryUpdate(ctx, current)
	if err != nil {
		return Result{}, &CallFailedError{Status: client.StatusOf(err), Err: err}
	}

	d := Descriptor{
		Size:       info.Size,
		IsNew:      info.IsNew,
		ResultCode: info.ResultCode,
	}
	res := Result{Descriptor: d, Check: Classify(d)}

	e.mu.Lock()
	e.descriptor = d
	e.check = res.Check
	e.mu.Unlock()

	log.Infof("update check for version %d: size=%d new=%t result=%d -> %s",
		current, d.Size, d.IsNew, d.ResultCode, res.Check)
	return res, nil
}

// StartDownload resets the session and asks the service to start streaming the
// image. Chunk events are accepted from the moment before the request is sent.
func (e *Engine) StartDownload(ctx context.Context) error {
	descriptor, check := e.Descriptor()

	e.closeSink()
	e.transfer = newTransferState(descriptor.Size, e.cfg.ChunkSize)
	e.state = StateIdle

	if check != CheckAvailable {
		return fmt.Errorf("%w: no update available (%s)", ErrRejected, check)
	}

	proxy, err := e.currentProxy()
	if err != nil {
		return err
	}
	if !proxy.IsAvailable(ctx) {
		return ErrNotReady
	}

	q, err := e.openQueue()
	if err != nil {
		return err
	}
	accepted, err := proxy.StartTransfer(ctx, e.cfg.TransferName)
	if err != nil {
		e.closeQueue(q)
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if !accepted {
		e.closeQueue(q)
		return fmt.Errorf("%w: service refused the transfer", ErrRejected)
	}

	e.state = StateRequested
	log.Infof("download of %d bytes to %s started", descriptor.Size, e.cfg.OutputPath)
	return nil
}

// OnChunk writes a chunk to the output file and updates the transfer accounting
func (e *Engine) OnChunk(index uint32, payload []byte, last bool) (Progress, error) {
	switch e.state {
	case StateRequested, StateTransferring:
	default:
		return e.progress(), fmt.Errorf("%w: chunk %d in state %s", ErrNoSession, index, e.state)
	}
	e.state = StateTransferring

	if e.sink == nil {
		sink, err := e.cfg.OpenSink(e.cfg.OutputPath)
		if err != nil {
			ioErr := fmt.Errorf("%w: open %s: %v", ErrIOFailure, e.cfg.OutputPath, err)
			e.Fail(ioErr)
			return e.progress(), ioErr
		}
		e.sink = sink
	}

	if _, err := e.sink.Write(payload); err != nil {
		ioErr := fmt.Errorf("%w: write chunk %d: %v", ErrIOFailure, index, err)
		e.Fail(ioErr)
		return e.progress(), ioErr
	}

	e.transfer.observe(index, len(payload), last, e.cfg.Now())
	log.Tracef("chunk %d written: %d bytes, %d%%", index, len(payload), e.transfer.Percent)

	if last {
		sink := e.sink
		e.sink = nil
		if err := sink.Close(); err != nil {
			ioErr := fmt.Errorf("%w: close %s: %v", ErrIOFailure, e.cfg.OutputPath, err)
			e.Fail(ioErr)
			return e.progress(), ioErr
		}
		e.state = StateCompleted
		log.Infof("download to %s completed after %d chunks", e.cfg.OutputPath, e.transfer.received())
	}

	return e.progress(), nil
}

// Fail ends the running session. Chunks arriving afterwards are ignored.
func (e *Engine) Fail(err error) {
	if e.state == StateCompleted || e.state == StateFailed {
		return
	}
	e.state = StateFailed
	e.closeSink()
	log.Errorf("download to %s failed: %v", e.cfg.OutputPath, err)
}

// Enqueue hands a chunk event from the transport over to the download worker.
// Events arriving without an active session are dropped.
func (e *Engine) Enqueue(index uint32, data []byte, last bool) {
	e.push(event{index: index, data: data, last: last})
}

// EnqueueError hands a broken stream over to the download worker
func (e *Engine) EnqueueError(err error) {
	e.push(event{err: err})
}

func (e *Engine) push(ev event) {
	e.mu.Lock()
	q := e.active
	if ev.err != nil {
		e.streamErr = ev.err
	}
	e.mu.Unlock()

	if q != nil && q.push(ev) {
		return
	}
	if ev.err != nil {
		log.Warnf("chunk stream closed without an active download: %v", ev.err)
		return
	}
	log.Debugf("dropping chunk %d without an active download", ev.index)
}

// Await consumes chunk events of the session started by StartDownload until the
// session completes, fails or ctx is done. onProgress is called after every chunk.
func (e *Engine) Await(ctx context.Context, onProgress func(Progress)) error {
	e.mu.Lock()
	q := e.active
	e.mu.Unlock()
	if q == nil {
		return ErrNoSession
	}
	defer e.closeQueue(q)

	for {
		select {
		case <-ctx.Done():
			e.Fail(ctx.Err())
			return ctx.Err()
		case ev := <-q.events:
			if ev.err != nil {
				e.Fail(ev.err)
				return fmt.Errorf("chunk stream: %w", ev.err)
			}

			p, err := e.OnChunk(ev.index, ev.data, ev.last)
			if errors.Is(err, ErrNoSession) {
				log.Debugf("ignoring chunk: %v", err)
				continue
			}
			if err != nil {
				return err
			}
			if onProgress != nil {
				onProgress(p)
			}
			if p.State == StateCompleted {
				return nil
			}
		}
	}
}

// State returns the state of the current session. Like the other session
// mutators it belongs to the worker goroutine.
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) progress() Progress {
	return Progress{
		Percent:      e.transfer.Percent,
		SpeedMbps:    e.transfer.SpeedMbps,
		Received:     e.transfer.received(),
		Total:        e.transfer.totalChunks(),
		BytesWritten: e.transfer.BytesWritten,
		State:        e.state,
	}
}

// openQueue installs the queue of a new session. It fails when the subscription
// ended, as no chunk would ever reach the queue.
func (e *Engine) openQueue() (*queue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}
	if e.active != nil {
		e.active.close()
	}
	q := newQueue()
	e.active = q
	return q, nil
}

func (e *Engine) closeQueue(q *queue) {
	q.close()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == q {
		e.active = nil
	}
}

func (e *Engine) closeSink() {
	if e.sink == nil {
		return
	}
	if err := e.sink.Close(); err != nil {
		log.Warnf("failed closing %s: %v", e.cfg.OutputPath, err)
	}
	e.sink = nil
}
