package observer

import (
	"github.com/rpi-update-ota/ota-agent/client/internal/session"
	"github.com/rpi-update-ota/ota-agent/client/internal/telemetry"
)

// Observer receives the events of the update agent. All methods are called from
// a single goroutine, in the order the events were posted.
type Observer interface {
	OnProgress(percent uint8)
	OnSpeed(mbps float64)
	OnChunkInfo(received, total uint32)
	OnBusy(busy bool)
	OnServerConnected(connected bool)
	OnUpdateCheckStarted()
	OnUpdateCheckDone(result session.CheckResult)
	OnDownloadRejected()
	OnDownloadFinished(ok bool)
	OnError(message string)
	OnTelemetry(snapshot telemetry.Snapshot)
}

// Nop ignores all events. Embed it to implement a subset of Observer.
type Nop struct{}

func (Nop) OnProgress(uint8)                      {}
func (Nop) OnSpeed(float64)                       {}
func (Nop) OnChunkInfo(uint32, uint32)            {}
func (Nop) OnBusy(bool)                           {}
func (Nop) OnServerConnected(bool)                {}
func (Nop) OnUpdateCheckStarted()                 {}
func (Nop) OnUpdateCheckDone(session.CheckResult) {}
func (Nop) OnDownloadRejected()                   {}
func (Nop) OnDownloadFinished(bool)               {}
func (Nop) OnError(string)                        {}
func (Nop) OnTelemetry(telemetry.Snapshot)        {}

// Multi forwards every event to all observers in order
type Multi []Observer

func (m Multi) OnProgress(percent uint8) {
	for _, o := range m {
		o.OnProgress(percent)
	}
}

func (m Multi) OnSpeed(mbps float64) {
	for _, o := range m {
		o.OnSpeed(mbps)
	}
}

func (m Multi) OnChunkInfo(received, total uint32) {
	for _, o := range m {
		o.OnChunkInfo(received, total)
	}
}

func (m Multi) OnBusy(busy bool) {
	for _, o := range m {
		o.OnBusy(busy)
	}
}

func (m Multi) OnServerConnected(connected bool) {
	for _, o := range m {
		o.OnServerConnected(connected)
	}
}

func (m Multi) OnUpdateCheckStarted() {
	for _, o := range m {
		o.OnUpdateCheckStarted()
	}
}

func (m Multi) OnUpdateCheckDone(result session.CheckResult) {
	for _, o := range m {
		o.OnUpdateCheckDone(result)
	}
}

func (m Multi) OnDownloadRejected() {
	for _, o := range m {
		o.OnDownloadRejected()
	}
}

func (m Multi) OnDownloadFinished(ok bool) {
	for _, o := range m {
		o.OnDownloadFinished(ok)
	}
}

func (m Multi) OnError(message string) {
	for _, o := range m {
		o.OnError(message)
	}
}

func (m Multi) OnTelemetry(snapshot telemetry.Snapshot) {
	for _, o := range m {
		o.OnTelemetry(snapshot)
	}
}
