package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/rpi-update-ota/ota-agent/client/internal/observer"
	"github.com/rpi-update-ota/ota-agent/client/internal/session"
	"github.com/rpi-update-ota/ota-agent/client/internal/supervisor"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/client"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/client/mocks"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/rpc"
)

const (
	imageSize = 1048576
	chunkSize = 65536
)

type recorder struct {
	observer.Nop
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) OnProgress(percent uint8)           { r.add("progress:%d", percent) }
func (r *recorder) OnChunkInfo(received, total uint32) { r.add("chunks:%d/%d", received, total) }
func (r *recorder) OnBusy(busy bool)                   { r.add("busy:%t", busy) }
func (r *recorder) OnServerConnected(connected bool)   { r.add("connected:%t", connected) }
func (r *recorder) OnUpdateCheckStarted()              { r.add("check-started") }
func (r *recorder) OnUpdateCheckDone(res session.CheckResult) {
	r.add("check-done:%s", res)
}
func (r *recorder) OnDownloadRejected()        { r.add("download-rejected") }
func (r *recorder) OnDownloadFinished(ok bool) { r.add("download-finished:%t", ok) }
func (r *recorder) OnError(message string)     { r.add("error:%s", message) }

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev == event {
			n++
		}
	}
	return n
}

// without progress events
func (r *recorder) outcomes() []string {
	var out []string
	for _, ev := range r.snapshot() {
		var a, b int
		if _, err := fmt.Sscanf(ev, "progress:%d", &a); err == nil {
			continue
		}
		if _, err := fmt.Sscanf(ev, "chunks:%d/%d", &a, &b); err == nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func waitIdle(t *testing.T, rec *recorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rec.count("busy:false") >= n
	}, 5*time.Second, 5*time.Millisecond)
}

type fakeConnector struct {
	proxy   client.Proxy
	err     error
	release chan struct{}
	calls   atomic.Int32

	mu      sync.Mutex
	onChunk client.ChunkHandler
}

func (f *fakeConnector) Connect(ctx context.Context, onChunk client.ChunkHandler, _ client.ErrorHandler) (client.Proxy, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.onChunk = onChunk
	f.mu.Unlock()
	return f.proxy, f.err
}

func (f *fakeConnector) chunkHandler() client.ChunkHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onChunk
}

type harness struct {
	coordinator *Coordinator
	recorder    *recorder
	connector   *fakeConnector
	proxy       *mocks.MockProxy
	dispatcher  *observer.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockProxy(ctrl)
	proxy.EXPECT().Close().Return(nil).AnyTimes()

	rec := &recorder{}
	dispatcher := observer.NewDispatcher(rec)
	connector := &fakeConnector{proxy: proxy}
	engine := session.NewEngine(session.Config{
		OutputPath: filepath.Join(t.TempDir(), "update.bin"),
		ChunkSize:  chunkSize,
	})

	c := New(Config{
		Connector:      connector,
		Engine:         engine,
		Dispatcher:     dispatcher,
		CurrentVersion: func() uint32 { return 1 },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, c.Shutdown(ctx))
		dispatcher.Close()
	})

	return &harness{
		coordinator: c,
		recorder:    rec,
		connector:   connector,
		proxy:       proxy,
		dispatcher:  dispatcher,
	}
}

func (h *harness) initialize(t *testing.T) {
	t.Helper()
	require.True(t, h.coordinator.Initialize())
	waitIdle(t, h.recorder, 1)
}

func (h *harness) check(t *testing.T, info rpc.UpdateInfo, idle int) {
	t.Helper()
	h.proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	h.proxy.EXPECT().QueryUpdate(gomock.Any(), uint32(1)).Return(info, nil)
	require.True(t, h.coordinator.CheckForUpdate())
	waitIdle(t, h.recorder, idle)
}

func TestSubmit_RejectedWhileBusy(t *testing.T) {
	h := newHarness(t)
	h.connector.release = make(chan struct{})

	require.True(t, h.coordinator.Submit(Initialize))
	assert.True(t, h.coordinator.Busy())
	assert.False(t, h.coordinator.Submit(CheckForUpdate))
	assert.False(t, h.coordinator.Submit(Initialize))
	assert.False(t, h.coordinator.Submit(StartDownload))

	close(h.connector.release)
	waitIdle(t, h.recorder, 1)

	assert.Equal(t, int32(1), h.connector.calls.Load())
	assert.False(t, h.coordinator.Busy())
	assert.Equal(t, []string{"busy:true", "connected:true", "busy:false"}, h.recorder.snapshot())
}

func TestSubmit_BusyFlipsOncePerOperation(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	for i := 0; i < 3; i++ {
		h.check(t, rpc.UpdateInfo{Size: 10, IsNew: false}, i+2)
	}

	assert.Equal(t, 4, h.recorder.count("busy:true"))
	assert.Equal(t, 4, h.recorder.count("busy:false"))

	events := h.recorder.snapshot()
	busy := false
	for _, ev := range events {
		switch ev {
		case "busy:true":
			require.False(t, busy, "busy set twice: %v", events)
			busy = true
		case "busy:false":
			require.True(t, busy, "busy cleared twice: %v", events)
			busy = false
		}
	}
}

func TestInitialize_Failure(t *testing.T) {
	h := newHarness(t)
	h.connector.proxy = nil
	h.connector.err = &supervisor.ConnectError{
		Err:   supervisor.ErrServiceTimeout,
		Cause: "Service not available. Ensure server is running.",
	}

	h.initialize(t)
	assert.Equal(t, []string{
		"busy:true",
		"error:Service not available. Ensure server is running.",
		"busy:false",
	}, h.recorder.snapshot())
}

func TestCheckForUpdate_Classification(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.check(t, rpc.UpdateInfo{Size: imageSize, IsNew: true}, 2)

	assert.Equal(t, []string{
		"busy:true", "connected:true", "busy:false",
		"busy:true", "check-started", "check-done:AVAILABLE", "busy:false",
	}, h.recorder.snapshot())
}

func TestCheckForUpdate_NotInitialized(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.coordinator.CheckForUpdate())
	waitIdle(t, h.recorder, 1)
	assert.Equal(t, []string{"busy:true", "check-started", "error:Service not available", "busy:false"},
		h.recorder.snapshot())
}

func TestCheckForUpdate_CallFailed(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	h.proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	h.proxy.EXPECT().QueryUpdate(gomock.Any(), uint32(1)).
		Return(rpc.UpdateInfo{}, &client.CallError{Method: "RequestUpdate", Status: client.RemoteError, Err: errors.New("boom")})
	require.True(t, h.coordinator.CheckForUpdate())
	waitIdle(t, h.recorder, 2)

	events := h.recorder.snapshot()
	assert.Equal(t, "error:requestUpdate() failed - call status: 4", events[len(events)-2])
}

func TestStartDownload_Completes(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.check(t, rpc.UpdateInfo{Size: imageSize, IsNew: true}, 2)

	h.proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	h.proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, string) (bool, error) {
		onChunk := h.connector.chunkHandler()
		go func() {
			payload := make([]byte, chunkSize)
			for i := uint32(0); i < 16; i++ {
				onChunk(i, payload, i == 15)
			}
		}()
		return true, nil
	})

	require.True(t, h.coordinator.StartDownload())
	waitIdle(t, h.recorder, 3)

	events := h.recorder.snapshot()
	assert.Equal(t, 16, countPrefix(events, "progress:"))
	assert.Contains(t, events, "progress:100")
	assert.Contains(t, events, "chunks:16/16")
	assert.Equal(t, []string{"download-finished:true", "busy:false"}, events[len(events)-2:])

	last := -1
	for _, ev := range events {
		var p int
		if _, err := fmt.Sscanf(ev, "progress:%d", &p); err == nil {
			assert.GreaterOrEqual(t, p, last)
			last = p
		}
	}
}

func TestStartDownload_RejectedWithoutUpdate(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.check(t, rpc.UpdateInfo{Size: 0, IsNew: false}, 2)

	// StartTransfer has no expectation, calling it fails the test
	require.True(t, h.coordinator.StartDownload())
	waitIdle(t, h.recorder, 3)

	assert.Equal(t, []string{
		"busy:true", "connected:true", "busy:false",
		"busy:true", "check-started", "check-done:ERROR", "busy:false",
		"busy:true", "download-rejected", "busy:false",
	}, h.recorder.outcomes())
}

func TestStartDownload_TransferError(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.check(t, rpc.UpdateInfo{Size: imageSize, IsNew: true}, 2)

	started := h.expectTransfer()

	require.True(t, h.coordinator.StartDownload())
	waitStarted(t, started)
	assert.True(t, h.coordinator.Busy())

	h.coordinator.cfg.Engine.EnqueueError(errors.New("stream broke"))
	waitIdle(t, h.recorder, 3)

	events := h.recorder.snapshot()
	assert.Equal(t, "error:chunk stream: stream broke", events[len(events)-2])
}

func TestStartDownload_StreamClosedWhileIdle(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.check(t, rpc.UpdateInfo{Size: imageSize, IsNew: true}, 2)

	h.coordinator.cfg.Engine.EnqueueError(errors.New("stream broke"))

	// no StartTransfer expectation, the stale connection must not be used
	require.True(t, h.coordinator.StartDownload())
	waitIdle(t, h.recorder, 3)
	assert.False(t, h.coordinator.Busy())

	events := h.recorder.snapshot()
	assert.Equal(t, []string{"error:Service not available", "busy:false"}, events[len(events)-2:])

	require.True(t, h.coordinator.Initialize())
	waitIdle(t, h.recorder, 4)
	assert.Equal(t, int32(2), h.connector.calls.Load())

	started := h.expectTransfer()
	require.True(t, h.coordinator.StartDownload())
	waitStarted(t, started)
}

func TestShutdown_InterruptsDownload(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.check(t, rpc.UpdateInfo{Size: imageSize, IsNew: true}, 2)

	started := h.expectTransfer()
	require.True(t, h.coordinator.StartDownload())
	waitStarted(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.coordinator.Shutdown(ctx))
	waitIdle(t, h.recorder, 3)

	events := h.recorder.snapshot()
	assert.Equal(t, []string{"download-finished:false", "busy:false"}, events[len(events)-2:])
	assert.False(t, h.coordinator.Submit(CheckForUpdate))
}

// expectTransfer accepts one transfer without streaming any chunk
func (h *harness) expectTransfer() <-chan struct{} {
	started := make(chan struct{})
	h.proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	h.proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, string) (bool, error) {
		close(started)
		return true, nil
	})
	return started
}

func waitStarted(t *testing.T, started <-chan struct{}) {
	t.Helper()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer was not requested")
	}
}

func countPrefix(events []string, prefix string) int {
	n := 0
	for _, ev := range events {
		if len(ev) >= len(prefix) && ev[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
