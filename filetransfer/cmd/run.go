package cmd

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/rpi-update-ota/ota-agent/filetransfer/server"
	"github.com/rpi-update-ota/ota-agent/version"
)

var (
	port         int
	imagePath    string
	imageVersion uint32
	chunkDelay   time.Duration

	kaep = grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	})

	kasp = grpc.KeepaliveParams(keepalive.ServerParameters{
		MaxConnectionIdle:     15 * time.Second,
		MaxConnectionAgeGrace: 5 * time.Second,
		Time:                  5 * time.Second,
		Timeout:               2 * time.Second,
	})

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "start the update service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			setupCloseHandler(ctx, cancel)

			return serve(ctx, fmt.Sprintf(":%d", port), server.Config{
				ImagePath:    imagePath,
				ImageVersion: imageVersion,
				ChunkDelay:   chunkDelay,
			})
		},
	}
)

func init() {
	runCmd.Flags().IntVar(&port, "port", 50051, "port to listen on")
	runCmd.Flags().StringVar(&imagePath, "image", "", "update image offered to the agents")
	runCmd.Flags().Uint32Var(&imageVersion, "image-version", 1, "version of the image, decimal or 0x prefixed hex")
	runCmd.Flags().DurationVar(&chunkDelay, "chunk-delay", 0, "pause between two chunks, useful to watch the progress")
	_ = runCmd.MarkFlagRequired("image")
}

func serve(ctx context.Context, addr string, cfg server.Config) error {
	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer(kaep, kasp, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	srv.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("started update service %s on %s", version.AgentVersion(), listener.Addr())
		return grpcServer.Serve(listener)
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.Stop()
		grpcServer.Stop()
		log.Infof("stopped update service")
		return nil
	})
	return g.Wait()
}
