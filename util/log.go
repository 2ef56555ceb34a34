package util

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rpi-update-ota/ota-agent/formatter"
)

const (
	// LogConsole sends the log to stderr
	LogConsole = "console"

	defaultLogMaxSizeMB = 5
)

// InitLog parses and sets log-level input. A logPath other than console rotates
// the log file with lumberjack.
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	var output io.Writer = os.Stderr
	if logPath != "" && logPath != LogConsole {
		output = &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    defaultLogMaxSizeMB, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
	}

	log.SetOutput(output)
	formatter.SetTextFormatter(log.StandardLogger())
	log.SetLevel(level)
	return nil
}
