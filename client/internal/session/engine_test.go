package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/client"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/client/mocks"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/rpc"
)

const (
	imageSize = 1048576
	chunkSize = 65536
)

type memSink struct {
	bytes.Buffer
	closed   bool
	writeErr error
}

func (m *memSink) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.Buffer.Write(p)
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(100 * time.Millisecond)
	return c.now
}

func newTestEngine(t *testing.T, sink *memSink) (*Engine, *mocks.MockProxy) {
	t.Helper()
	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockProxy(ctrl)

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	e := NewEngine(Config{
		OutputPath:   "memory",
		TransferName: "update.bin",
		ChunkSize:    chunkSize,
		OpenSink: func(string) (io.WriteCloser, error) {
			return sink, nil
		},
		Now: clock.Now,
	})
	e.SetProxy(proxy)
	return e, proxy
}

func queryAvailable(t *testing.T, e *Engine, proxy *mocks.MockProxy, size uint64) {
	t.Helper()
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().QueryUpdate(gomock.Any(), uint32(1)).Return(rpc.UpdateInfo{Size: size, IsNew: true}, nil)
	res, err := e.QueryUpdate(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, CheckAvailable, res.Check)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Descriptor
		want CheckResult
	}{
		{name: "zero size", in: Descriptor{Size: 0, IsNew: true}, want: CheckError},
		{name: "result code", in: Descriptor{Size: 10, IsNew: true, ResultCode: 3}, want: CheckError},
		{name: "up to date", in: Descriptor{Size: 10, IsNew: false}, want: CheckUpToDate},
		{name: "available", in: Descriptor{Size: 10, IsNew: true}, want: CheckAvailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.in))
		})
	}
}

func TestQueryUpdate_NoProxy(t *testing.T) {
	e := NewEngine(Config{})
	_, err := e.QueryUpdate(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestQueryUpdate_NotAvailable(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(false)

	_, err := e.QueryUpdate(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestQueryUpdate_CallFailed(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().QueryUpdate(gomock.Any(), uint32(7)).
		Return(rpc.UpdateInfo{}, &client.CallError{Method: "RequestUpdate", Status: client.RemoteError, Err: errors.New("boom")})

	_, err := e.QueryUpdate(context.Background(), 7)
	var callErr *CallFailedError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, client.RemoteError, callErr.Status)
}

func TestQueryUpdate_StoresDescriptor(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().QueryUpdate(gomock.Any(), uint32(2)).Return(rpc.UpdateInfo{Size: 1024, IsNew: false}, nil)

	res, err := e.QueryUpdate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, CheckUpToDate, res.Check)

	d, check := e.Descriptor()
	assert.Equal(t, Descriptor{Size: 1024}, d)
	assert.Equal(t, CheckUpToDate, check)
}

func TestStartDownload_RejectedWithoutUpdate(t *testing.T) {
	tests := []struct {
		name string
		info rpc.UpdateInfo
	}{
		{name: "zero size", info: rpc.UpdateInfo{Size: 0, IsNew: true}},
		{name: "up to date", info: rpc.UpdateInfo{Size: 1024, IsNew: false}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, proxy := newTestEngine(t, &memSink{})
			proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
			proxy.EXPECT().QueryUpdate(gomock.Any(), gomock.Any()).Return(tc.info, nil)
			_, err := e.QueryUpdate(context.Background(), 1)
			require.NoError(t, err)

			// no StartTransfer expectation, the remote must not be asked
			err = e.StartDownload(context.Background())
			assert.ErrorIs(t, err, ErrRejected)
		})
	}
}

func TestStartDownload_RefusedByService(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	queryAvailable(t, e, proxy, imageSize)

	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), "update.bin").Return(false, nil)

	err := e.StartDownload(context.Background())
	assert.ErrorIs(t, err, ErrRejected)

	// no session is active, so Await has nothing to wait for
	assert.ErrorIs(t, e.Await(context.Background(), nil), ErrNoSession)
}

func TestStartDownload_NotReady(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	queryAvailable(t, e, proxy, imageSize)

	proxy.EXPECT().IsAvailable(gomock.Any()).Return(false)
	assert.ErrorIs(t, e.StartDownload(context.Background()), ErrNotReady)
}

func TestStartDownload_StreamClosedWhileIdle(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	queryAvailable(t, e, proxy, imageSize)

	e.EnqueueError(errors.New("stream broke"))

	// neither IsAvailable nor StartTransfer may be called on a proxy without a subscription
	err := e.StartDownload(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "stream broke")
	assert.ErrorIs(t, e.Await(context.Background(), nil), ErrNoSession)

	_, err = e.QueryUpdate(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotReady)

	// a new connection brings a new subscription
	e.SetProxy(proxy)
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), "update.bin").Return(true, nil)
	require.NoError(t, e.StartDownload(context.Background()))

	e.Enqueue(0, make([]byte, chunkSize), true)
	assert.NoError(t, e.Await(context.Background(), nil))
}

func TestDownload_ProgressSequence(t *testing.T) {
	sink := &memSink{}
	e, proxy := newTestEngine(t, sink)
	queryAvailable(t, e, proxy, imageSize)

	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), "update.bin").Return(true, nil)
	require.NoError(t, e.StartDownload(context.Background()))

	payload := bytes.Repeat([]byte{0xab}, chunkSize)
	go func() {
		for i := uint32(0); i < 16; i++ {
			e.Enqueue(i, payload, i == 15)
		}
	}()

	var progress []Progress
	err := e.Await(context.Background(), func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	require.Len(t, progress, 16)

	assert.Equal(t, uint8(0), progress[0].Percent)
	assert.Equal(t, uint8(6), progress[1].Percent)
	assert.Equal(t, uint8(100), progress[15].Percent)
	assert.Equal(t, StateCompleted, progress[15].State)

	for i, p := range progress {
		assert.Equal(t, uint32(i+1), p.Received)
		assert.Equal(t, uint32(16), p.Total)
		if i > 0 {
			assert.GreaterOrEqual(t, p.Percent, progress[i-1].Percent, "percent must never decrease")
		}
		assert.LessOrEqual(t, p.Percent, uint8(100))
	}
	assert.Greater(t, progress[15].SpeedMbps, 0.0)
	assert.Equal(t, uint64(imageSize), progress[15].BytesWritten)

	assert.Equal(t, imageSize, sink.Len())
	assert.True(t, sink.closed)
	assert.Equal(t, StateCompleted, e.State())
}

func TestOnChunk_PercentIsClampedAndMonotonic(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	queryAvailable(t, e, proxy, 100)
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).Return(true, nil)
	require.NoError(t, e.StartDownload(context.Background()))

	p, err := e.OnChunk(5, []byte("x"), false)
	require.NoError(t, err)
	assert.Equal(t, uint8(100), p.Percent)

	p, err = e.OnChunk(0, []byte("x"), false)
	require.NoError(t, err)
	assert.Equal(t, uint8(100), p.Percent)
}

func TestOnChunk_LastBeforeEndDoesNotComplete100(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	queryAvailable(t, e, proxy, imageSize)
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).Return(true, nil)
	require.NoError(t, e.StartDownload(context.Background()))

	p, err := e.OnChunk(3, []byte("x"), true)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), p.Percent)
	assert.Equal(t, StateCompleted, p.State)
}

func TestStartDownload_ResetsTransferState(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	queryAvailable(t, e, proxy, imageSize)

	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true).Times(2)
	proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).Return(true, nil).Times(2)
	require.NoError(t, e.StartDownload(context.Background()))

	for i := uint32(0); i < 16; i++ {
		_, err := e.OnChunk(i, make([]byte, chunkSize), i == 15)
		require.NoError(t, err)
	}
	require.Equal(t, uint8(100), e.progress().Percent)

	require.NoError(t, e.StartDownload(context.Background()))
	p := e.progress()
	assert.Equal(t, uint8(0), p.Percent)
	assert.Equal(t, 0.0, p.SpeedMbps)
	assert.Equal(t, uint32(0), p.Received)
	assert.Equal(t, StateRequested, p.State)
}

func TestOnChunk_WriteFailure(t *testing.T) {
	sink := &memSink{writeErr: errors.New("disk full")}
	e, proxy := newTestEngine(t, sink)
	queryAvailable(t, e, proxy, imageSize)
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).Return(true, nil)
	require.NoError(t, e.StartDownload(context.Background()))

	e.Enqueue(0, []byte("payload"), false)
	err := e.Await(context.Background(), nil)
	assert.ErrorIs(t, err, ErrIOFailure)
	assert.Equal(t, StateFailed, e.State())
	assert.True(t, sink.closed)

	// chunks after a failure are ignored
	_, err = e.OnChunk(1, []byte("payload"), false)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestOnChunk_OpenFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockProxy(ctrl)
	e := NewEngine(Config{
		OutputPath: filepath.Join(t.TempDir(), "missing", "dir", "update.bin"),
	})
	e.SetProxy(proxy)
	queryAvailable(t, e, proxy, imageSize)
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).Return(true, nil)
	require.NoError(t, e.StartDownload(context.Background()))

	_, err := e.OnChunk(0, []byte("payload"), false)
	assert.ErrorIs(t, err, ErrIOFailure)
	assert.Equal(t, StateFailed, e.State())
}

func TestDownload_WritesFile(t *testing.T) {
	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockProxy(ctrl)
	out := filepath.Join(t.TempDir(), "update.bin")
	e := NewEngine(Config{OutputPath: out, ChunkSize: 4})
	e.SetProxy(proxy)
	queryAvailable(t, e, proxy, 10)
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).Return(true, nil)
	require.NoError(t, e.StartDownload(context.Background()))

	e.Enqueue(0, []byte("0123"), false)
	e.Enqueue(1, []byte("4567"), false)
	e.Enqueue(2, []byte("89"), true)
	require.NoError(t, e.Await(context.Background(), nil))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestAwait_StreamError(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	queryAvailable(t, e, proxy, imageSize)
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).Return(true, nil)
	require.NoError(t, e.StartDownload(context.Background()))

	e.EnqueueError(errors.New("stream broke"))
	err := e.Await(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, e.State())
}

func TestAwait_ContextCanceled(t *testing.T) {
	e, proxy := newTestEngine(t, &memSink{})
	queryAvailable(t, e, proxy, imageSize)
	proxy.EXPECT().IsAvailable(gomock.Any()).Return(true)
	proxy.EXPECT().StartTransfer(gomock.Any(), gomock.Any()).Return(true, nil)
	require.NoError(t, e.StartDownload(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Await(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, e.State())
}

func TestEnqueue_DroppedWithoutSession(t *testing.T) {
	e, _ := newTestEngine(t, &memSink{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint32(0); i < 2*queueSize; i++ {
			e.Enqueue(i, []byte("x"), false)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked without an active session")
	}
}
