package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rpi-update-ota/ota-agent/client/internal/config"
	"github.com/rpi-update-ota/ota-agent/util"
)

const (
	configFlag      = "config"
	logLevelFlag    = "log-level"
	logFileFlag     = "log-file"
	serverAddrFlag  = "server-addr"
	dataDirFlag     = "data-dir"
	metricsPortFlag = "metrics-port"
)

var (
	configPath  string
	logLevel    string
	logFile     string
	serverAddr  string
	dataDir     string
	metricsPort int

	// agentConfig is loaded before any sub command runs
	agentConfig *config.Config

	rootCmd = &cobra.Command{
		Use:               "ota-agent",
		Short:             "over-the-air update agent",
		Long:              "Connects to the update service, checks for a newer image, downloads it and reports device telemetry.",
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, configFlag, "c", "/etc/ota-agent/config.yaml", "agent config file location, defaults are used when it does not exist")
	rootCmd.PersistentFlags().StringVarP(&logLevel, logLevelFlag, "l", "info", "sets the agent log level")
	rootCmd.PersistentFlags().StringVar(&logFile, logFileFlag, util.LogConsole, "sets the agent log path. If console is specified the log will be output to stderr")
	rootCmd.PersistentFlags().StringVarP(&serverAddr, serverAddrFlag, "s", config.DefaultServerAddress, "update service address host:port")
	rootCmd.PersistentFlags().StringVar(&dataDir, dataDirFlag, config.DefaultDataDir, "directory holding the downloaded image and the version file")
	rootCmd.PersistentFlags().IntVar(&metricsPort, metricsPortFlag, 0, "port of the prometheus metrics endpoint, 0 disables it")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(telemetryCmd)
	rootCmd.AddCommand(uiCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	util.SetFlagsFromEnvVars(cmd)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Apply(inputFromFlags(cmd))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := util.InitLog(cfg.Log.Level, cfg.Log.File); err != nil {
		return fmt.Errorf("failed initializing log %v", err)
	}

	agentConfig = cfg
	return nil
}

// inputFromFlags only carries flags that were set on the command line or the environment,
// so the config file wins over flag defaults
func inputFromFlags(cmd *cobra.Command) config.Input {
	var input config.Input
	flags := cmd.Flags()
	if flags.Changed(serverAddrFlag) {
		input.ServerAddress = &serverAddr
	}
	if flags.Changed(dataDirFlag) {
		input.DataDir = &dataDir
	}
	if flags.Changed(logLevelFlag) {
		input.LogLevel = &logLevel
	}
	if flags.Changed(logFileFlag) {
		input.LogFile = &logFile
	}
	if flags.Changed(metricsPortFlag) {
		input.MetricsPort = &metricsPort
	}
	return input
}

// SetupCloseHandler handles SIGTERM signal and exits with success
func SetupCloseHandler(ctx context.Context, cancel context.CancelFunc) {
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
