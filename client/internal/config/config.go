package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	nberrors "github.com/rpi-update-ota/ota-agent/client/errors"
	"github.com/rpi-update-ota/ota-agent/client/internal/telemetry"
	"github.com/rpi-update-ota/ota-agent/client/internal/versionfile"
	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/rpc"
	"github.com/rpi-update-ota/ota-agent/util"
)

const (
	// DefaultServerAddress is where the update service listens on the device
	DefaultServerAddress = "127.0.0.1:50051"
	// DefaultDomain, DefaultInstance and the service id name the remote service instance
	DefaultDomain   = "local"
	DefaultInstance = "client-sample"
	// DefaultDataDir holds the downloaded image and the version file
	DefaultDataDir = "/home/root/rpi-update-ota/data/client"
	// DefaultOutputName is the file the downloaded image is written to
	DefaultOutputName = "update.bin"
	// DefaultTransferName is the file name requested from the service
	DefaultTransferName = "update.bin"
	// DefaultMetricsEndpoint is the path the prometheus handler is mounted on
	DefaultMetricsEndpoint = "/metrics"

	defaultCallTimeout       = 10 * time.Second
	defaultAttempts          = 30
	defaultInterval          = time.Second
	defaultTelemetryInterval = 2 * time.Second
)

// Config of the OTA agent, persisted as YAML
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Connect   ConnectConfig   `yaml:"connect"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig locates the update service
type ServerConfig struct {
	Address     string        `yaml:"address"`
	TLS         bool          `yaml:"tls"`
	Domain      string        `yaml:"domain"`
	ServiceID   string        `yaml:"serviceId"`
	Instance    string        `yaml:"instance"`
	CallTimeout time.Duration `yaml:"callTimeout"`
}

// ConnectConfig bounds the connection establishment
type ConnectConfig struct {
	BuildAttempts    int           `yaml:"buildAttempts"`
	LivenessAttempts int           `yaml:"livenessAttempts"`
	Interval         time.Duration `yaml:"interval"`
}

// StorageConfig locates the files written by the agent
type StorageConfig struct {
	DataDir      string `yaml:"dataDir"`
	OutputName   string `yaml:"outputName"`
	TransferName string `yaml:"transferName"`
	VersionFile  string `yaml:"versionFile"`
}

// TelemetryConfig controls the device sampler
type TelemetryConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StoragePath string        `yaml:"storagePath"`
	ThermalPath string        `yaml:"thermalPath"`
}

// LogConfig sets the log level and destination
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig exposes the prometheus endpoint. A zero port disables it.
type MetricsConfig struct {
	Port     int    `yaml:"port"`
	Endpoint string `yaml:"endpoint"`
}

// Input carries configuration changes given on the command line
type Input struct {
	ServerAddress *string
	DataDir       *string
	LogLevel      *string
	LogFile       *string
	MetricsPort   *int
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     DefaultServerAddress,
			Domain:      DefaultDomain,
			ServiceID:   rpc.ServiceName,
			Instance:    DefaultInstance,
			CallTimeout: defaultCallTimeout,
		},
		Connect: ConnectConfig{
			BuildAttempts:    defaultAttempts,
			LivenessAttempts: defaultAttempts,
			Interval:         defaultInterval,
		},
		Storage: StorageConfig{
			DataDir:      DefaultDataDir,
			OutputName:   DefaultOutputName,
			TransferName: DefaultTransferName,
			VersionFile:  versionfile.DefaultName,
		},
		Telemetry: TelemetryConfig{
			Interval:    defaultTelemetryInterval,
			StoragePath: "/",
			ThermalPath: telemetry.DefaultThermalPath,
		},
		Log: LogConfig{
			Level: "info",
			File:  util.LogConsole,
		},
		Metrics: MetricsConfig{
			Endpoint: DefaultMetricsEndpoint,
		},
	}
}

// Load reads the configuration at path on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if err := util.ReadYamlWithEnvSub(path, cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Debugf("config file %s not found, using defaults", path)
	}
	return cfg, nil
}

// Apply merges the command line input into the config and reports whether anything changed
func (c *Config) Apply(input Input) bool {
	updated := false
	if input.ServerAddress != nil && *input.ServerAddress != c.Server.Address {
		log.Infof("new server address provided, updated to %s (old value %s)", *input.ServerAddress, c.Server.Address)
		c.Server.Address = *input.ServerAddress
		updated = true
	}
	if input.DataDir != nil && *input.DataDir != c.Storage.DataDir {
		c.Storage.DataDir = *input.DataDir
		updated = true
	}
	if input.LogLevel != nil && *input.LogLevel != c.Log.Level {
		c.Log.Level = *input.LogLevel
		updated = true
	}
	if input.LogFile != nil && *input.LogFile != c.Log.File {
		c.Log.File = *input.LogFile
		updated = true
	}
	if input.MetricsPort != nil && *input.MetricsPort != c.Metrics.Port {
		c.Metrics.Port = *input.MetricsPort
		updated = true
	}
	return updated
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var merr *multierror.Error

	if c.Server.Address == "" {
		merr = multierror.Append(merr, errors.New("server address is required"))
	} else if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("invalid server address %q: %w", c.Server.Address, err))
	}
	if c.Server.ServiceID == "" {
		merr = multierror.Append(merr, errors.New("service id is required"))
	}
	if c.Server.CallTimeout <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("call timeout must be positive, got %s", c.Server.CallTimeout))
	}
	if c.Connect.BuildAttempts < 1 {
		merr = multierror.Append(merr, fmt.Errorf("build attempts must be at least 1, got %d", c.Connect.BuildAttempts))
	}
	if c.Connect.LivenessAttempts < 1 {
		merr = multierror.Append(merr, fmt.Errorf("liveness attempts must be at least 1, got %d", c.Connect.LivenessAttempts))
	}
	if c.Connect.Interval < 0 {
		merr = multierror.Append(merr, fmt.Errorf("connect interval must not be negative, got %s", c.Connect.Interval))
	}
	if c.Storage.DataDir == "" {
		merr = multierror.Append(merr, errors.New("data dir is required"))
	}
	if c.Storage.OutputName == "" {
		merr = multierror.Append(merr, errors.New("output name is required"))
	}
	if c.Storage.VersionFile == "" {
		merr = multierror.Append(merr, errors.New("version file is required"))
	}
	if c.Telemetry.Interval <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("telemetry interval must be positive, got %s", c.Telemetry.Interval))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("log level: %w", err))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		merr = multierror.Append(merr, fmt.Errorf("metrics port out of range: %d", c.Metrics.Port))
	}

	return nberrors.FormatErrorOrNil(merr)
}

// Save writes the configuration to path
func (c *Config) Save(ctx context.Context, path string) error {
	if err := util.WriteYaml(ctx, path, c); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// OutputPath is the file the downloaded image is written to
func (c *Config) OutputPath() string {
	return resolve(c.Storage.DataDir, c.Storage.OutputName)
}

// VersionPath is the file holding the installed version
func (c *Config) VersionPath() string {
	return resolve(c.Storage.DataDir, c.Storage.VersionFile)
}

func resolve(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
