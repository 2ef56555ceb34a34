package cmd

import (
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/rpi-update-ota/ota-agent/client/internal/session"
	"github.com/rpi-update-ota/ota-agent/client/internal/telemetry"
)

// progressLogStep is the percent distance between two progress log lines
const progressLogStep = 10

// logObserver writes every agent event to the log. Its methods run on the dispatcher goroutine.
type logObserver struct {
	lastLogged int
	speed      float64
}

func newLogObserver() *logObserver {
	return &logObserver{lastLogged: -progressLogStep}
}

func (l *logObserver) OnProgress(percent uint8) {
	p := int(percent)
	if p < l.lastLogged {
		l.lastLogged = -progressLogStep
	}
	if p == 100 || p-l.lastLogged >= progressLogStep {
		log.Infof("download progress %d%% (%.2f MB/s)", p, l.speed)
		l.lastLogged = p
	}
}

func (l *logObserver) OnSpeed(mbps float64) {
	l.speed = mbps
}

func (l *logObserver) OnChunkInfo(received, total uint32) {
	log.Debugf("received chunk %d/%d", received, total)
}

func (l *logObserver) OnBusy(busy bool) {
	log.Tracef("busy: %t", busy)
}

func (l *logObserver) OnServerConnected(connected bool) {
	if connected {
		log.Info("connected to the update service")
		return
	}
	log.Warn("disconnected from the update service")
}

func (l *logObserver) OnUpdateCheckStarted() {
	log.Info("checking for updates")
}

func (l *logObserver) OnUpdateCheckDone(result session.CheckResult) {
	switch result {
	case session.CheckAvailable:
		log.Info("update available")
	case session.CheckUpToDate:
		log.Info("device is up to date")
	default:
		log.Warnf("update check result: %s", result)
	}
}

func (l *logObserver) OnDownloadRejected() {
	log.Warn("download rejected")
	l.lastLogged = -progressLogStep
}

func (l *logObserver) OnDownloadFinished(ok bool) {
	l.lastLogged = -progressLogStep
	if ok {
		log.Info("download completed")
		return
	}
	log.Warn("download did not complete")
}

func (l *logObserver) OnError(message string) {
	log.Errorf("agent error: %s", message)
}

func (l *logObserver) OnTelemetry(s telemetry.Snapshot) {
	log.WithFields(log.Fields{
		"cpu":     s.CPUPercent,
		"mem":     humanize.IBytes(s.MemUsed) + "/" + humanize.IBytes(s.MemTotal),
		"storage": humanize.IBytes(s.StorageUsed) + "/" + humanize.IBytes(s.StorageTotal),
		"temp":    humanize.FtoaWithDigits(s.TemperatureC, 1),
		"uptime":  s.Uptime.String(),
	}).Debug("device telemetry")
}
