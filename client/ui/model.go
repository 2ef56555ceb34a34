package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/rpi-update-ota/ota-agent/client/internal/session"
	"github.com/rpi-update-ota/ota-agent/client/internal/telemetry"
)

const maxProgressWidth = 60

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Controller submits agent operations. Every method returns false when the
// operation was rejected because another one is running.
type Controller interface {
	Initialize() bool
	CheckForUpdate() bool
	StartDownload() bool
}

type submittedMsg struct {
	name     string
	accepted bool
}

// Model is the terminal UI of the agent
type Model struct {
	ctrl Controller

	busy      bool
	connected bool
	status    string
	check     string
	lastErr   string

	percent  uint8
	speed    float64
	received uint32
	total    uint32

	snapshot    telemetry.Snapshot
	hasSnapshot bool

	bar progress.Model
}

// NewModel creates the UI model. The agent is initialized as soon as the program starts.
func NewModel(ctrl Controller) Model {
	return Model{
		ctrl:   ctrl,
		status: "starting",
		check:  "unknown",
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m Model) Init() tea.Cmd {
	return m.submit("initialize", m.ctrl.Initialize)
}

func (m Model) submit(name string, op func() bool) tea.Cmd {
	return func() tea.Msg {
		return submittedMsg{name: name, accepted: op()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "i":
			return m, m.submit("initialize", m.ctrl.Initialize)
		case "c":
			return m, m.submit("check", m.ctrl.CheckForUpdate)
		case "d":
			return m, m.submit("download", m.ctrl.StartDownload)
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(msg.Width-4, maxProgressWidth))
	case submittedMsg:
		if !msg.accepted {
			m.status = fmt.Sprintf("%s rejected, agent is busy", msg.name)
		} else {
			m.status = msg.name + " running"
		}
	case busyMsg:
		m.busy = bool(msg)
		if !m.busy && strings.HasSuffix(m.status, " running") {
			m.status = "idle"
		}
	case connectedMsg:
		m.connected = bool(msg)
		if m.connected {
			m.lastErr = ""
		}
	case checkStartedMsg:
		m.check = "checking"
	case checkDoneMsg:
		m.check = session.CheckResult(msg).String()
	case progressMsg:
		m.percent = uint8(msg)
	case speedMsg:
		m.speed = float64(msg)
	case chunkInfoMsg:
		m.received, m.total = msg.received, msg.total
	case rejectedMsg:
		m.lastErr = "download rejected"
	case finishedMsg:
		if bool(msg) {
			m.status = "download completed"
		} else {
			m.status = "download interrupted"
		}
	case errorMsg:
		m.lastErr = string(msg)
	case telemetryMsg:
		m.snapshot = telemetry.Snapshot(msg)
		m.hasSnapshot = true
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("OTA update agent"))
	b.WriteString("\n\n")

	server := warnStyle.Render("disconnected")
	if m.connected {
		server = okStyle.Render("connected")
	}
	m.row(&b, "server", server)
	m.row(&b, "status", m.statusLine())
	m.row(&b, "update", m.check)
	m.row(&b, "download", m.bar.ViewAs(float64(m.percent)/100))
	m.row(&b, "", fmt.Sprintf("%.2f MB/s  chunk %d/%d", m.speed, m.received, m.total))

	b.WriteString("\n")
	if m.hasSnapshot {
		s := m.snapshot
		m.row(&b, "cpu", fmt.Sprintf("%d%%", s.CPUPercent))
		m.row(&b, "memory", humanize.IBytes(s.MemUsed)+" / "+humanize.IBytes(s.MemTotal))
		m.row(&b, "storage", humanize.IBytes(s.StorageUsed)+" / "+humanize.IBytes(s.StorageTotal))
		m.row(&b, "temp", fmt.Sprintf("%.1f°C", s.TemperatureC))
		m.row(&b, "uptime", s.Uptime.Truncate(time.Second).String())
	} else {
		m.row(&b, "telemetry", "waiting for first sample")
	}

	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("error: " + m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("i: initialize • c: check • d: download • q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) statusLine() string {
	if m.busy {
		return warnStyle.Render("busy") + "  " + m.status
	}
	return m.status
}

func (m Model) row(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}
