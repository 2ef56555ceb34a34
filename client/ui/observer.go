package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rpi-update-ota/ota-agent/client/internal/session"
	"github.com/rpi-update-ota/ota-agent/client/internal/telemetry"
)

type (
	progressMsg     uint8
	speedMsg        float64
	chunkInfoMsg    struct{ received, total uint32 }
	busyMsg         bool
	connectedMsg    bool
	checkStartedMsg struct{}
	checkDoneMsg    session.CheckResult
	rejectedMsg     struct{}
	finishedMsg     bool
	errorMsg        string
	telemetryMsg    telemetry.Snapshot
)

// Observer turns agent events into bubbletea messages
type Observer struct {
	send func(tea.Msg)
}

// NewObserver creates an observer handing every event to send, usually tea.Program.Send
func NewObserver(send func(tea.Msg)) *Observer {
	return &Observer{send: send}
}

func (o *Observer) OnProgress(percent uint8) { o.send(progressMsg(percent)) }

func (o *Observer) OnSpeed(mbps float64) { o.send(speedMsg(mbps)) }

func (o *Observer) OnChunkInfo(received, total uint32) {
	o.send(chunkInfoMsg{received: received, total: total})
}

func (o *Observer) OnBusy(busy bool) { o.send(busyMsg(busy)) }

func (o *Observer) OnServerConnected(connected bool) { o.send(connectedMsg(connected)) }

func (o *Observer) OnUpdateCheckStarted() { o.send(checkStartedMsg{}) }

func (o *Observer) OnUpdateCheckDone(result session.CheckResult) { o.send(checkDoneMsg(result)) }

func (o *Observer) OnDownloadRejected() { o.send(rejectedMsg{}) }

func (o *Observer) OnDownloadFinished(ok bool) { o.send(finishedMsg(ok)) }

func (o *Observer) OnError(message string) { o.send(errorMsg(message)) }

func (o *Observer) OnTelemetry(snapshot telemetry.Snapshot) { o.send(telemetryMsg(snapshot)) }
