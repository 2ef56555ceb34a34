package server

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpi-update-ota/ota-agent/filetransfer/subscriber"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/rpc"
)

func TestServer_RequestUpdate(t *testing.T) {
	image := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(image, make([]byte, 1000), 0o644))

	s, err := NewServer(Config{ImagePath: image, ImageVersion: 3})
	require.NoError(t, err)

	tests := []struct {
		name    string
		version uint32
		isNew   bool
	}{
		{"older client", 2, true},
		{"same version", 3, false},
		{"newer client", 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := s.RequestUpdate(context.Background(), &rpc.UpdateRequest{CurrentVersion: tt.version})
			require.NoError(t, err)
			assert.Equal(t, uint64(1000), info.GetSize())
			assert.Equal(t, tt.isNew, info.GetIsNew())
			assert.Equal(t, int32(0), info.GetResultCode())
		})
	}
}

func TestServer_RequestUpdateMissingImage(t *testing.T) {
	s, err := NewServer(Config{ImagePath: filepath.Join(t.TempDir(), "missing.bin"), ImageVersion: 3})
	require.NoError(t, err)

	info, err := s.RequestUpdate(context.Background(), &rpc.UpdateRequest{CurrentVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.GetSize())
	assert.NotEqual(t, int32(0), info.GetResultCode())
}

func TestServer_StartTransferRequiresName(t *testing.T) {
	s, err := NewServer(Config{ImagePath: "image.bin"})
	require.NoError(t, err)

	_, err = s.StartTransfer(context.Background(), &rpc.StartTransferRequest{})
	assert.Error(t, err)
}

func TestServer_StreamChunking(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		wantChunks int
	}{
		{"empty image", 0, 1},
		{"partial last chunk", 100, 2},
		{"exact multiple", 128, 2},
		{"single chunk", 64, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(Config{ImagePath: "unused", ChunkSize: 64})
			require.NoError(t, err)
			defer s.Stop()

			sub := subscriber.NewSubscriber("client")
			s.registry.Register(sub)

			data := bytes.Repeat([]byte{0xAB}, tt.size)
			errCh := make(chan error, 1)
			go func() {
				errCh <- s.stream(bytes.NewReader(data))
			}()

			var received []*rpc.FileChunk
			timeout := time.After(5 * time.Second)
			for done := false; !done; {
				select {
				case chunk := <-sub.Chunks():
					received = append(received, chunk)
					done = chunk.GetLast()
				case <-timeout:
					t.Fatal("timed out waiting for chunks")
				}
			}

			require.NoError(t, <-errCh)
			require.Len(t, received, tt.wantChunks)

			var assembled []byte
			for i, chunk := range received {
				assert.Equal(t, uint32(i), chunk.GetIndex())
				assert.Equal(t, i == len(received)-1, chunk.GetLast())
				assembled = append(assembled, chunk.GetData()...)
			}
			assert.Equal(t, data, assembled)
		})
	}
}
