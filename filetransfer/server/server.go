package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rpi-update-ota/ota-agent/filetransfer/subscriber"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/rpc"
	"github.com/rpi-update-ota/ota-agent/version"
)

const (
	resultOK            int32 = 0
	resultImageNotFound int32 = 1
)

// Config of the file transfer service
type Config struct {
	// ImagePath is the file offered to clients
	ImagePath string
	// ImageVersion is compared against the version reported by the client
	ImageVersion uint32
	// ChunkSize defaults to rpc.ChunkSize
	ChunkSize int
	// ChunkDelay slows the stream down, zero streams as fast as subscribers consume
	ChunkDelay time.Duration
}

// Server serves a single update image in fixed size chunks to all subscribers
type Server struct {
	rpc.UnimplementedFileTransferServer

	cfg      Config
	registry *subscriber.Registry
	health   *health.Server

	mu           sync.Mutex
	transferring bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new file transfer server
func NewServer(cfg Config) (*Server, error) {
	if cfg.ImagePath == "" {
		return nil, errors.New("image path is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = rpc.ChunkSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		registry: subscriber.NewRegistry(),
		health:   health.NewServer(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Register attaches the file transfer and health services and marks the service as serving
func (s *Server) Register(gs *grpc.Server) {
	rpc.RegisterFileTransferServer(gs, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Stop reports NOT_SERVING, aborts a running transfer and waits for it to finish
func (s *Server) Stop() {
	s.health.Shutdown()
	s.cancel()
	s.wg.Wait()
}

func (s *Server) RequestUpdate(_ context.Context, req *rpc.UpdateRequest) (*rpc.UpdateInfo, error) {
	info, err := os.Stat(s.cfg.ImagePath)
	if err != nil {
		log.Warnf("image %s is not available: %v", s.cfg.ImagePath, err)
		return &rpc.UpdateInfo{ResultCode: resultImageNotFound}, nil
	}

	resp := &rpc.UpdateInfo{
		Size:       uint64(info.Size()),
		IsNew:      req.CurrentVersion < s.cfg.ImageVersion,
		ResultCode: resultOK,
	}
	log.Infof("update requested by version %d: size=%d new=%t", req.CurrentVersion, resp.Size, resp.IsNew)
	return resp, nil
}

func (s *Server) StartTransfer(_ context.Context, req *rpc.StartTransferRequest) (*rpc.StartTransferResponse, error) {
	if req.GetName() == "" {
		return nil, status.Error(codes.InvalidArgument, "transfer name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transferring {
		log.Infof("rejecting transfer %s, another transfer is running", req.GetName())
		return &rpc.StartTransferResponse{Accepted: false}, nil
	}

	f, err := os.Open(s.cfg.ImagePath)
	if err != nil {
		log.Errorf("failed opening image %s: %v", s.cfg.ImagePath, err)
		return &rpc.StartTransferResponse{Accepted: false}, nil
	}

	s.transferring = true
	transferID := uuid.NewString()
	log.Infof("starting transfer %s of %s as %s", transferID, s.cfg.ImagePath, req.GetName())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.transferring = false
			s.mu.Unlock()
		}()
		defer func() {
			if err := f.Close(); err != nil {
				log.Warnf("failed closing image %s: %v", s.cfg.ImagePath, err)
			}
		}()

		if err := s.stream(f); err != nil {
			log.Errorf("transfer %s failed: %v", transferID, err)
			return
		}
		log.Infof("transfer %s finished", transferID)
	}()

	return &rpc.StartTransferResponse{Accepted: true}, nil
}

func (s *Server) SubscribeChunks(_ *rpc.SubscribeRequest, stream rpc.FileTransfer_SubscribeChunksServer) error {
	id := instanceFromContext(stream.Context())
	sub := subscriber.NewSubscriber(id)
	s.registry.Register(sub)
	defer s.registry.Deregister(sub)

	header := metadata.Pairs(rpc.HeaderSubscribed, "1", rpc.HeaderVersion, version.AgentVersion())
	if err := stream.SendHeader(header); err != nil {
		return status.Errorf(codes.Internal, "send subscription header: %v", err)
	}

	for {
		select {
		case <-stream.Context().Done():
			log.Debugf("subscriber [%s] left: %v", id, stream.Context().Err())
			return nil
		case <-s.ctx.Done():
			return status.Error(codes.Unavailable, "service is shutting down")
		case chunk, ok := <-sub.Chunks():
			if !ok {
				return nil
			}
			if err := stream.Send(chunk); err != nil {
				log.Warnf("failed sending chunk %d to [%s]: %v", chunk.GetIndex(), id, err)
				return err
			}
		}
	}
}

// stream reads the image chunk by chunk and broadcasts every chunk to all subscribers
func (s *Server) stream(r io.Reader) error {
	buf := make([]byte, s.cfg.ChunkSize)
	var index uint32

	var limiter *rate.Limiter
	if s.cfg.ChunkDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.cfg.ChunkDelay), 1)
	}

	// one chunk of lookahead tells whether the current chunk is the last one
	n, err := io.ReadFull(r, buf)
	for {
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read image: %w", err)
		}
		current := make([]byte, n)
		copy(current, buf[:n])
		last := err != nil

		if !last {
			n, err = io.ReadFull(r, buf)
			// the image size is an exact multiple of the chunk size
			if errors.Is(err, io.EOF) {
				last = true
			}
		}

		if limiter != nil {
			if err := limiter.Wait(s.ctx); err != nil {
				return fmt.Errorf("pace chunks: %w", err)
			}
		}

		s.broadcast(&rpc.FileChunk{Index: index, Data: current, Last: last})
		if last {
			return nil
		}
		index++

		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
	}
}

func (s *Server) broadcast(chunk *rpc.FileChunk) {
	for _, sub := range s.registry.All() {
		if err := sub.Deliver(s.ctx, chunk); err != nil {
			log.Debugf("chunk %d not delivered to [%s]: %v", chunk.GetIndex(), sub.Id, err)
		}
	}
}

func instanceFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return uuid.NewString()
	}
	values := md.Get(rpc.HeaderInstance)
	if len(values) == 0 || values[0] == "" {
		return uuid.NewString()
	}
	return values[0]
}
