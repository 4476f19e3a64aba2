package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"github.com/tomaslejdung/peepview/pkg/logging"
	"github.com/tomaslejdung/peepview/pkg/media"
	"github.com/tomaslejdung/peepview/pkg/session"
	"github.com/tomaslejdung/peepview/pkg/settings"
)

const defaultLogFile = "peepview-debug.log"

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	// Keybind styles
	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan for keys

	keySepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Dim separator

	toggleActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10")) // Green for active toggles

	toggleInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8")) // Dim for inactive toggles

	boxTitleDimStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("8"))
)

// Messages
type statusMsg session.Status

type sessionErrorMsg struct {
	err error
}

type sessionReadyMsg struct {
	sess *session.Session
	err  error
}

// actionDoneMsg marks the end of a load or reload started from a key
type actionDoneMsg struct{}

type tickMsg time.Time

type model struct {
	ctx      context.Context
	settings settings.Settings
	logger   logrus.FieldLogger
	player   *media.Player
	sess     *session.Session

	// events carries session callbacks, which fire on pion goroutines
	events chan tea.Msg

	status    session.Status
	retries   int
	busy      bool
	lastError string
	showStats bool
	stats     []media.TrackStats
	startTime time.Time
	width     int
	height    int
}

func initialModel(ctx context.Context, s settings.Settings, logger logrus.FieldLogger) model {
	return model{
		ctx:       ctx,
		settings:  s,
		logger:    logger,
		player:    media.NewPlayer(logger),
		events:    make(chan tea.Msg, 64),
		status:    session.StatusConnecting,
		busy:      true,
		startTime: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tea.SetWindowTitle("PeepView - "+m.settings.Room),
		m.startSession(),
		waitForEvent(m.events),
		tickCmd(),
	)
}

func (m model) startSession() tea.Cmd {
	return func() tea.Msg {
		sess, err := newSession(m.ctx, m.settings, m.logger, m.player, m.pushStatus, m.pushError)
		return sessionReadyMsg{sess: sess, err: err}
	}
}

func (m model) pushStatus(status session.Status) {
	m.push(statusMsg(status))
}

func (m model) pushError(err error) {
	m.push(sessionErrorMsg{err: err})
}

func (m model) push(msg tea.Msg) {
	select {
	case m.events <- msg:
	case <-m.ctx.Done():
	}
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case sessionReadyMsg:
		m.busy = false
		if msg.err != nil {
			m.lastError = msg.err.Error()
			return m, nil
		}
		m.sess = msg.sess
		m.retries = msg.sess.RetryCount()
		return m, nil

	case statusMsg:
		m.status = session.Status(msg)
		if m.sess != nil {
			m.retries = m.sess.RetryCount()
		}
		if m.status == session.StatusConnected {
			m.lastError = ""
		}
		return m, waitForEvent(m.events)

	case sessionErrorMsg:
		m.lastError = msg.err.Error()
		return m, waitForEvent(m.events)

	case actionDoneMsg:
		m.busy = false
		return m, nil

	case tickMsg:
		m.stats = m.player.Stats()
		return m, tickCmd()
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.cleanup()
		return m, tea.Quit

	case "i":
		m.showStats = !m.showStats
		return m, nil

	case "r":
		return m.runAction(func(ctx context.Context, sess *session.Session) {
			_ = sess.Reload(ctx)
		})

	case "l":
		return m.runAction(func(ctx context.Context, sess *session.Session) {
			_ = sess.Load(ctx)
		})
	}

	return m, nil
}

// runAction starts a load or reload unless one is already running. Failures
// reach the model through the session's error event.
func (m model) runAction(action func(context.Context, *session.Session)) (tea.Model, tea.Cmd) {
	if m.sess == nil || m.busy {
		return m, nil
	}
	m.busy = true
	m.lastError = ""
	sess, ctx := m.sess, m.ctx
	return m, func() tea.Msg {
		action(ctx, sess)
		return actionDoneMsg{}
	}
}

func (m *model) cleanup() {
	if m.sess != nil {
		m.sess.Destroy()
	}
	m.player.Close()
}

func (m model) View() string {
	var b strings.Builder

	// Title
	b.WriteString(titleStyle.Render("PeepView"))
	b.WriteString(dimStyle.Render(" - WebRTC Viewer"))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	if m.showStats {
		b.WriteString("\n")
		b.WriteString(m.renderStats())
		b.WriteString("\n")
	}

	// Error message
	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	// Help
	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m model) renderStatus() string {
	var b strings.Builder

	switch m.status {
	case session.StatusConnected:
		b.WriteString(selectedStyle.Render("[CONNECTED]"))
	case session.StatusReconnecting:
		retryTime := m.settings.RetryTime
		if retryTime == 0 {
			retryTime = session.DefaultRetryTime
		}
		b.WriteString(warnStyle.Render(fmt.Sprintf("[RECONNECTING %d/%d]", m.retries, retryTime)))
	case session.StatusConnecting:
		b.WriteString(statusStyle.Render("[CONNECTING]"))
	default:
		b.WriteString(errorStyle.Render("[" + strings.ToUpper(m.status.String()) + "]"))
	}

	if m.busy {
		b.WriteString(dimStyle.Render(" negotiating..."))
	}
	b.WriteString("\n")

	b.WriteString(dimStyle.Render("Room:   "))
	b.WriteString(urlStyle.Render(m.settings.Room))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Signal: "))
	b.WriteString(normalStyle.Render(m.settings.SignalURL))
	b.WriteString("\n")

	if stream := m.player.StreamID(); stream != "" {
		b.WriteString(dimStyle.Render("Stream: "))
		b.WriteString(normalStyle.Render(truncate(stream, 40)))
		b.WriteString("\n")
	}

	return b.String()
}

func (m model) renderStats() string {
	statsBoxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Width(74)

	var content strings.Builder
	content.WriteString(boxTitleDimStyle.Render(" Tracks "))
	content.WriteString("\n")

	uptime := time.Since(m.startTime).Truncate(time.Second)
	content.WriteString(dimStyle.Render("Uptime: "))
	content.WriteString(normalStyle.Render(formatDuration(uptime)))
	content.WriteString("\n")

	if len(m.stats) == 0 {
		content.WriteString(dimStyle.Render("No active tracks"))
	} else {
		var totalBytes, totalLost uint64
		for _, stat := range m.stats {
			totalBytes += stat.Bytes
			totalLost += stat.Lost
		}

		// Format: "video VP8    30fps | 2100kbps | 45.2 MB | lost 3"
		for _, stat := range m.stats {
			rate := ""
			if stat.Kind == "video" {
				rate = fmt.Sprintf("%.0ffps", stat.FPS)
			}
			line := fmt.Sprintf("%-5s %-6s %6s | %5.0fkbps | %s | lost %d",
				stat.Kind, stat.Codec, rate, stat.Bitrate, formatBytes(int64(stat.Bytes)), stat.Lost)
			content.WriteString(normalStyle.Render(line))
			content.WriteString("\n")
		}

		content.WriteString(dimStyle.Render(fmt.Sprintf("Total: %s, %s packets lost",
			formatBytes(int64(totalBytes)), formatNumber(int64(totalLost)))))
	}

	return statsBoxStyle.Render(content.String())
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

func formatBytes(b int64) string {
	if b >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(b)/1_000_000_000)
	}
	if b >= 1_000_000 {
		return fmt.Sprintf("%.1f MB", float64(b)/1_000_000)
	}
	if b >= 1_000 {
		return fmt.Sprintf("%.1f KB", float64(b)/1_000)
	}
	return fmt.Sprintf("%d B", b)
}

func (m model) renderHelp() string {
	var b strings.Builder
	sep := keySepStyle.Render("  ")

	var actions []string
	if m.sess != nil && !m.busy {
		actions = append(actions, keyStyle.Render("r")+helpStyle.Render(" reload"))
		actions = append(actions, keyStyle.Render("l")+helpStyle.Render(" load"))
	}
	actions = append(actions, keyStyle.Render("q")+helpStyle.Render(" quit"))
	b.WriteString(strings.Join(actions, sep))

	b.WriteString("\n\n")
	b.WriteString(m.renderToggle("i", "stats", m.showStats))

	return b.String()
}

// renderToggle renders a toggle keybind with active/inactive indicator
func (m model) renderToggle(key, label string, active bool) string {
	if active {
		return toggleActiveStyle.Render(" "+key) + " " + toggleActiveStyle.Render(label)
	}
	return toggleInactiveStyle.Render(" "+key) + " " + toggleInactiveStyle.Render(label)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// RunTUI starts the TUI application
func RunTUI(ctx context.Context, s settings.Settings, loadErr error) error {
	// Write logs to file instead of corrupting TUI display
	var out io.Writer = io.Discard
	path := s.LogFile
	if path == "" {
		path = defaultLogFile
	}
	if logFile, err := os.Create(path); err == nil {
		out = logFile
		defer logFile.Close()
	}

	logger, err := logging.New(s.LogLevel, out)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"function": "RunTUI",
		"room":     s.Room,
	}).Infof("=== PeepView started at %s ===", time.Now().Format(time.RFC3339))
	if loadErr != nil {
		logger.WithFields(logrus.Fields{
			"function": "RunTUI",
			"error":    loadErr,
		}).Warn("Using default settings")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(
		initialModel(ctx, s, logger),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	final, runErr := p.Run()
	if m, ok := final.(model); ok {
		m.cleanup()
	}
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return runErr
}
