package formatter

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// defaultModule is used when the binary carries no build info, as in test binaries
const defaultModule = "github.com/rpi-update-ota/ota-agent"

// SetTextFormatter sets the text formatter on logger and makes every entry carry its source
func SetTextFormatter(logger *logrus.Logger) {
	logger.SetFormatter(NewTextFormatter())
	logger.SetReportCaller(true)
	logger.AddHook(NewContextHook(modulePath()))
}

func modulePath() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Path != "" {
		return info.Main.Path
	}
	return defaultModule
}
