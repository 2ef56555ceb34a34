package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	nberrors "github.com/rpi-update-ota/ota-agent/client/errors"
	"github.com/rpi-update-ota/ota-agent/client/internal/coordinator"
	"github.com/rpi-update-ota/ota-agent/client/internal/observer"
)

const watchFlag = "watch"

var (
	watchInterval time.Duration

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "runs the agent: connects, checks for an update and downloads it when available",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, true, watchInterval)
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "connects to the update service and reports whether an update is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, false, 0)
		},
	}

	downloadCmd = &cobra.Command{
		Use:   "download",
		Short: "downloads the update image when one is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, true, 0)
		},
	}
)

func init() {
	runCmd.Flags().DurationVar(&watchInterval, watchFlag, 0, "repeat the update check with this interval, 0 runs a single pass")
}

func runAgent(cmd *cobra.Command, download bool, watch time.Duration) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	SetupCloseHandler(ctx, cancel)

	fl := newFlow(download)
	a, err := newAgent(ctx, agentConfig, observer.Multi{newLogObserver(), fl})
	if err != nil {
		return err
	}
	fl.coord = a.coordinator

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.serve(ctx)
	}()

	passErr := drive(ctx, fl, watch, cmd.OutOrStdout(), agentConfig.OutputPath())

	cancel()
	return nberrors.Append(passErr, <-serveErr, a.shutdown())
}

// drive runs update passes until the first pass ends, or, when watch is set, until ctx is done
func drive(ctx context.Context, fl *flow, watch time.Duration, out io.Writer, outputPath string) error {
	reconnect := true
	for {
		op := coordinator.CheckForUpdate
		if reconnect || !fl.connected() {
			op = coordinator.Initialize
		}

		var res passResult
		select {
		case res = <-fl.start(op):
		case <-ctx.Done():
			return nil
		}
		report(out, res, outputPath)

		if watch <= 0 {
			return res.Err
		}
		if res.Err != nil {
			log.Warnf("update pass failed, reconnecting in %s: %v", watch, res.Err)
		}
		reconnect = res.Err != nil

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(watch):
		}
	}
}

func report(out io.Writer, res passResult, outputPath string) {
	if res.Checked {
		_, _ = fmt.Fprintf(out, "update check: %s\n", res.Check)
	}
	if res.Downloaded {
		_, _ = fmt.Fprintf(out, "update downloaded to %s\n", outputPath)
	}
	if res.Err != nil {
		_, _ = fmt.Fprintf(out, "error: %v\n", res.Err)
	}
}
