package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpi-update-ota/ota-agent/client/internal/observer"
	"github.com/rpi-update-ota/ota-agent/client/internal/session"
	"github.com/rpi-update-ota/ota-agent/client/internal/telemetry"
)

type fakeController struct {
	calls  []string
	accept bool
}

func (f *fakeController) Initialize() bool {
	f.calls = append(f.calls, "initialize")
	return f.accept
}

func (f *fakeController) CheckForUpdate() bool {
	f.calls = append(f.calls, "check")
	return f.accept
}

func (f *fakeController) StartDownload() bool {
	f.calls = append(f.calls, "download")
	return f.accept
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModel_InitSubmitsInitialize(t *testing.T) {
	ctrl := &fakeController{accept: true}
	m := NewModel(ctrl)

	cmd := m.Init()
	require.NotNil(t, cmd)
	msg := cmd()

	assert.Equal(t, []string{"initialize"}, ctrl.calls)
	m, _ = update(t, m, msg)
	assert.Contains(t, m.View(), "initialize running")
}

func TestModel_KeysSubmitOperations(t *testing.T) {
	ctrl := &fakeController{accept: false}
	m := NewModel(ctrl)

	for _, r := range []rune{'c', 'd', 'i'} {
		var cmd tea.Cmd
		m, cmd = update(t, m, key(r))
		require.NotNil(t, cmd)
		m, _ = update(t, m, cmd())
	}

	assert.Equal(t, []string{"check", "download", "initialize"}, ctrl.calls)
	assert.Contains(t, m.View(), "initialize rejected, agent is busy")
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(&fakeController{})
	_, cmd := update(t, m, key('q'))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_ObserverEvents(t *testing.T) {
	m := NewModel(&fakeController{accept: true})

	var msgs []tea.Msg
	var obs observer.Observer = NewObserver(func(msg tea.Msg) { msgs = append(msgs, msg) })
	obs.OnBusy(true)
	obs.OnServerConnected(true)
	obs.OnUpdateCheckStarted()
	obs.OnUpdateCheckDone(session.CheckAvailable)
	obs.OnProgress(42)
	obs.OnSpeed(3.5)
	obs.OnChunkInfo(7, 16)
	obs.OnTelemetry(telemetry.Snapshot{
		CPUPercent:   17,
		MemUsed:      512 * 1024 * 1024,
		MemTotal:     1024 * 1024 * 1024,
		TemperatureC: 48.3,
		Uptime:       90 * time.Second,
	})
	obs.OnError("stream broke")
	obs.OnDownloadFinished(true)
	obs.OnBusy(false)

	require.Len(t, msgs, 11)
	for _, msg := range msgs {
		m, _ = update(t, m, msg)
	}

	view := m.View()
	assert.True(t, m.connected)
	assert.False(t, m.busy)
	assert.Equal(t, uint8(42), m.percent)
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "AVAILABLE")
	assert.Contains(t, view, "3.50 MB/s  chunk 7/16")
	assert.Contains(t, view, "17%")
	assert.Contains(t, view, "512 MiB / 1.0 GiB")
	assert.Contains(t, view, "48.3°C")
	assert.Contains(t, view, "1m30s")
	assert.Contains(t, view, "error: stream broke")
	assert.Contains(t, view, "download completed")
}

func TestModel_DownloadRejected(t *testing.T) {
	m := NewModel(&fakeController{})
	m, _ = update(t, m, rejectedMsg{})
	assert.Contains(t, m.View(), "error: download rejected")

	m, _ = update(t, m, connectedMsg(true))
	assert.NotContains(t, m.View(), "error:")
}
