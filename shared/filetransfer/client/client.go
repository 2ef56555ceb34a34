package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/rpc"
	"github.com/rpi-update-ota/ota-agent/version"
)

const defaultCallTimeout = 10 * time.Second

// ChunkHandler is invoked for every chunk event, in stream order.
type ChunkHandler func(index uint32, data []byte, last bool)

// ErrorHandler is invoked once when the chunk stream breaks.
type ErrorHandler func(err error)

// Proxy is a handle to the remote file transfer service.
type Proxy interface {
	// IsAvailable reports whether the remote service is reachable and serving.
	IsAvailable(ctx context.Context) bool
	QueryUpdate(ctx context.Context, currentVersion uint32) (rpc.UpdateInfo, error)
	StartTransfer(ctx context.Context, name string) (bool, error)
	// SubscribeChunks registers the chunk event handlers. It returns once the
	// service confirmed the subscription; events are delivered from a separate goroutine.
	SubscribeChunks(ctx context.Context, onChunk ChunkHandler, onError ErrorHandler) error
	Close() error
}

//go:generate mockgen -destination=mocks/proxy_mock.go -package=mocks github.com/rpi-update-ota/ota-agent/shared/filetransfer/client Proxy,ProxyBuilder

// ProxyBuilder constructs proxies for a named service instance.
type ProxyBuilder interface {
	BuildProxy(domain, serviceID, instance string) (Proxy, error)
}

// Builder creates gRPC backed proxies to a file transfer service at Address.
type Builder struct {
	Address     string
	TLSEnabled  bool
	CallTimeout time.Duration
}

// BuildProxy creates a new proxy. The underlying connection is established lazily,
// so a successful build says nothing about the liveness of the service.
func (b *Builder) BuildProxy(domain, serviceID, instance string) (Proxy, error) {
	if b.Address == "" {
		return nil, errors.New("no service address configured")
	}
	if serviceID == "" {
		return nil, errors.New("no service id provided")
	}

	var opts []grpc.DialOption
	if b.TLSEnabled {
		certPool, err := x509.SystemCertPool()
		if err != nil || certPool == nil {
			return nil, fmt.Errorf("load system cert pool: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			RootCAs: certPool,
		})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	opts = append(opts,
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    15 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)

	conn, err := grpc.NewClient(b.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating new grpc client: %w", err)
	}

	callTimeout := b.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &GrpcProxy{
		domain:      domain,
		serviceID:   serviceID,
		instance:    instance,
		realClient:  rpc.NewFileTransferClient(conn),
		healthCheck: healthpb.NewHealthClient(conn),
		conn:        conn,
		callTimeout: callTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// GrpcProxy wraps the file transfer gRPC client
type GrpcProxy struct {
	domain      string
	serviceID   string
	instance    string
	realClient  rpc.FileTransferClient
	healthCheck healthpb.HealthClient
	conn        *grpc.ClientConn
	callTimeout time.Duration

	// ctx is canceled on Close and bounds the lifetime of the chunk stream
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// IsAvailable asks the service health endpoint whether the service is serving
func (p *GrpcProxy) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	resp, err := p.healthCheck.Check(ctx, &healthpb.HealthCheckRequest{Service: p.serviceID})
	if err != nil {
		log.Tracef("health check of %s failed: %v", p.serviceID, err)
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (p *GrpcProxy) QueryUpdate(ctx context.Context, currentVersion uint32) (rpc.UpdateInfo, error) {
	ctx, cancel := context.WithTimeout(p.outgoing(ctx), p.callTimeout)
	defer cancel()

	info, err := p.realClient.RequestUpdate(ctx, &rpc.UpdateRequest{CurrentVersion: currentVersion})
	if err != nil {
		return rpc.UpdateInfo{}, toCallError("RequestUpdate", err)
	}

	return rpc.UpdateInfo{
		Size:       info.GetSize(),
		IsNew:      info.GetIsNew(),
		ResultCode: info.GetResultCode(),
	}, nil
}

func (p *GrpcProxy) StartTransfer(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(p.outgoing(ctx), p.callTimeout)
	defer cancel()

	resp, err := p.realClient.StartTransfer(ctx, &rpc.StartTransferRequest{Name: name})
	if err != nil {
		return false, toCallError("StartTransfer", err)
	}
	return resp.GetAccepted(), nil
}

func (p *GrpcProxy) SubscribeChunks(ctx context.Context, onChunk ChunkHandler, onError ErrorHandler) error {
	// the stream must outlive the call that opened it, only Close ends it
	streamCtx, streamCancel := context.WithCancel(p.outgoing(p.ctx))

	headerCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	stream, err := p.realClient.SubscribeChunks(streamCtx, &rpc.SubscribeRequest{})
	if err != nil {
		streamCancel()
		return toCallError("SubscribeChunks", err)
	}

	if err := waitSubscribed(headerCtx, stream); err != nil {
		streamCancel()
		return err
	}

	log.Debugf("subscribed to chunk events of %s", p.serviceID)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer streamCancel()
		err := receive(stream, onChunk)
		if p.ctx.Err() != nil {
			log.Debugf("chunk stream of %s closed", p.serviceID)
			return
		}
		log.Warnf("chunk stream of %s broke: %v", p.serviceID, err)
		if onError != nil {
			onError(err)
		}
	}()

	return nil
}

// Close cancels the chunk stream and closes the underlying connection
func (p *GrpcProxy) Close() error {
	p.cancel()
	err := p.conn.Close()
	p.wg.Wait()
	return err
}

func (p *GrpcProxy) outgoing(ctx context.Context) context.Context {
	md := metadata.New(map[string]string{
		rpc.HeaderDomain:   p.domain,
		rpc.HeaderInstance: p.instance,
	})
	return metadata.NewOutgoingContext(ctx, md)
}

// waitSubscribed blocks until the service sends the registration header or ctx expires
func waitSubscribed(ctx context.Context, stream rpc.FileTransfer_SubscribeChunksClient) error {
	type result struct {
		header metadata.MD
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		header, err := stream.Header()
		ch <- result{header, err}
	}()

	select {
	case <-ctx.Done():
		return toCallError("SubscribeChunks", status.FromContextError(ctx.Err()).Err())
	case res := <-ch:
		if res.err != nil {
			return toCallError("SubscribeChunks", res.err)
		}
		if len(res.header.Get(rpc.HeaderSubscribed)) == 0 {
			return &CallError{Method: "SubscribeChunks", Status: SubscriptionRefused,
				Err: errors.New("didn't receive a subscription header from the service")}
		}
		if v := res.header.Get(rpc.HeaderVersion); len(v) > 0 && !version.Compatible(v[0]) {
			log.Warnf("service version %s may not be compatible with agent version %s", v[0], version.AgentVersion())
		}
		return nil
	}
}

func receive(stream rpc.FileTransfer_SubscribeChunksClient, onChunk ChunkHandler) error {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return errors.New("chunk stream closed by server")
		}
		if err != nil {
			return err
		}

		log.Tracef("received chunk %d size=%d last=%t", msg.GetIndex(), len(msg.GetData()), msg.GetLast())
		onChunk(msg.GetIndex(), msg.GetData(), msg.GetLast())
	}
}
