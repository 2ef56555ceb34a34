package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rpi-update-ota/ota-agent/util"
)

var (
	logLevel string
	logFile  string

	rootCmd = &cobra.Command{
		Use:          "ota-server",
		Short:        "development update service",
		Long:         "Serves a single update image to OTA agents over gRPC.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.SetFlagsFromEnvVars(cmd)
			return util.InitLog(logLevel, logFile)
		},
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "sets the server log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", util.LogConsole, "sets the server log path. If console is specified the log will be output to stderr")
	rootCmd.AddCommand(runCmd)
}

// setupCloseHandler cancels ctx on SIGINT or SIGTERM
func setupCloseHandler(ctx context.Context, cancel context.CancelFunc) {
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(termCh)
		select {
		case <-ctx.Done():
			return
		case <-termCh:
		}
		log.Info("shutdown signal received")
		cancel()
	}()
}
