// Package tui provides a Bubble Tea TUI for inspecting recorded sessions.
package tui

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/fakeyudi/script/internal/bytesize"
	"github.com/fakeyudi/script/internal/session"
	"github.com/fakeyudi/script/internal/timing"
)

// MaxTranscript is how much of a transcript's tail the viewer loads.
const MaxTranscript = 1 << 20

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	kindInputStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	kindOutputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	warnStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabTranscript
	tabTiming
	tabLogs
	tabCount
)

var tabNames = [tabCount]string{
	"Summary", "Transcript", "Timing", "Logs",
}

// Recording is a history record with the artifacts it points to.
type Recording struct {
	Session *session.Session
	// Transcript is at most MaxTranscript bytes from the end of the file.
	Transcript []byte
	Truncated  bool
	Timing     []timing.Record
	// Problems lists artifacts that could not be read.
	Problems []string
}

// Load reads the transcript and timing log a record points to. Missing or
// unreadable files are noted in Problems rather than failing the load.
func Load(s *session.Session) *Recording {
	r := &Recording{Session: s}

	if path := s.Log(session.LogTranscript); path != "" {
		data, truncated, err := readTail(path, MaxTranscript)
		if err != nil {
			r.Problems = append(r.Problems, err.Error())
		}
		r.Transcript, r.Truncated = data, truncated
	}

	if path := s.Log(session.LogTiming); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			r.Problems = append(r.Problems, err.Error())
		} else {
			r.Timing, err = timing.Parse(f)
			f.Close()
			if err != nil {
				r.Problems = append(r.Problems, err.Error())
			}
		}
	}
	return r
}

func readTail(path string, max int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	truncated := info.Size() > max
	if truncated {
		if _, err := f.Seek(-max, io.SeekEnd); err != nil {
			return nil, false, err
		}
	}
	data, err := io.ReadAll(f)
	return data, truncated, err
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	rec       *Recording
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	// cumulative shows timing offsets from the session start instead of
	// per-entry deltas.
	cumulative bool
}

// New creates a new TUI model for the given recording.
func New(rec *Recording) Model {
	return Model{rec: rec, cumulative: true}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
			return m, nil
		case "1", "2", "3", "4":
			m.activeTab = tabID(msg.String()[0] - '1')
			return m, nil
		case "c":
			if m.activeTab == tabTiming && m.ready {
				m.cumulative = !m.cumulative
				m.viewports[tabTiming].SetContent(m.renderTab(tabTiming))
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  script  " + m.rec.Session.ShortID())

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-4 jump  q quit"
	if m.activeTab == tabTiming {
		mode := "offsets"
		if !m.cumulative {
			mode = "deltas"
		}
		hint += "  c toggle (" + mode + ")"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + pct,
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
	// A transcript reads from its most recent output.
	m.viewports[tabTranscript].GotoBottom()
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabTranscript:
		return m.renderTranscript()
	case tabTiming:
		return m.renderTiming()
	case tabLogs:
		return m.renderLogs()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func (m *Model) renderSummary() string {
	s := m.rec.Session
	var sb strings.Builder
	sb.WriteString(heading("Recording"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
	}
	row("ID:", s.ID)
	row("Work Dir:", s.WorkDir)
	row("Shell:", s.Shell)
	if s.Command != "" {
		row("Command:", s.Command)
	}
	row("Started:", s.StartTime.Format("2006-01-02 15:04:05 MST")+dimStyle.Render("  ("+humanize.Time(s.StartTime)+")"))
	if s.StopTime != nil {
		row("Stopped:", s.StopTime.Format("2006-01-02 15:04:05 MST"))
		row("Duration:", s.Duration().Round(time.Millisecond).String())
	} else {
		row("Stopped:", warnStyle.Render("never recorded"))
	}
	row("Exit Status:", exitText(s))

	sb.WriteString(heading("Traffic"))
	row("Output:", bytesize.Format(s.OutputBytes))
	row("Input:", bytesize.Format(s.InputBytes))
	if s.LimitReached {
		row("Limit:", warnStyle.Render("output limit reached, child terminated"))
	}
	if len(m.rec.Timing) > 0 {
		row("Entries:", humanize.Comma(int64(len(m.rec.Timing))))
	}

	if len(m.rec.Problems) > 0 {
		sb.WriteString(heading("Problems"))
		for _, p := range m.rec.Problems {
			sb.WriteString(warnStyle.Render("  !") + "  " + p + "\n")
		}
	}
	return sb.String()
}

func exitText(s *session.Session) string {
	if s.ExitCode == nil {
		return dimStyle.Render("unknown")
	}
	return fmt.Sprintf("%d", *s.ExitCode)
}

func (m *Model) renderTranscript() string {
	var sb strings.Builder
	sb.WriteString(heading("Transcript"))
	if m.rec.Session.Log(session.LogTranscript) == "" || (len(m.rec.Transcript) == 0 && !m.rec.Truncated) {
		sb.WriteString(dimStyle.Render("  (empty)") + "\n")
		return sb.String()
	}
	if m.rec.Truncated {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  … showing the last %s", bytesize.Format(MaxTranscript))) + "\n\n")
	}
	sb.WriteString(PlainText(m.rec.Transcript))
	return sb.String()
}

// PlainText strips terminal control sequences and carriage returns so raw
// transcript bytes can be shown inside a viewport.
func PlainText(raw []byte) string {
	text := ansi.Strip(string(raw))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	// A lone carriage return redraws the line; keep only what was drawn last.
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		lines[i] = line
		if j := strings.LastIndexByte(line, '\r'); j >= 0 {
			lines[i] = line[j+1:]
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderTiming() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Timing (%d entries)", len(m.rec.Timing))))
	if len(m.rec.Timing) == 0 {
		sb.WriteString(dimStyle.Render("  (no timing log for this recording)") + "\n")
		return sb.String()
	}

	var offset time.Duration
	for i, r := range m.rec.Timing {
		offset += r.Elapsed
		at := r.Elapsed
		if m.cumulative {
			at = offset
		}
		badge := kindOutputStyle.Render("  OUT")
		if r.Direction == timing.Input {
			badge = kindInputStyle.Render("  IN ")
		}
		ts := timeStyle.Render(fmt.Sprintf("%12.6fs", at.Seconds()))
		sb.WriteString(fmt.Sprintf("%s  %s%s  %s\n", dimStyle.Render(fmt.Sprintf("  %5d.", i+1)), ts, badge, bytesize.Format(uint64(r.Bytes))))
	}
	return sb.String()
}

func (m *Model) renderLogs() string {
	var sb strings.Builder
	s := m.rec.Session
	sb.WriteString(heading(fmt.Sprintf("Log Files (%d)", len(s.Logs))))
	if len(s.Logs) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, l := range s.Logs {
		size := fileSize(l.Path)
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-12s", l.Role)) + "  " + stripWorkDir(l.Path, s.WorkDir) + "  " + dimStyle.Render(size) + "\n")
	}
	return sb.String()
}

func fileSize(path string) string {
	if path == "-" {
		return "(stderr)"
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "(missing)"
	}
	if err != nil {
		return "(unreadable)"
	}
	return bytesize.Format(uint64(info.Size()))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// stripWorkDir removes the workDir prefix from path, returning a relative path.
// If path doesn't start with workDir, it's returned unchanged.
func stripWorkDir(path, workDir string) string {
	if workDir == "" {
		return path
	}
	prefix := workDir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if strings.HasPrefix(path, prefix) {
		return path[len(prefix):]
	}
	return path
}

// WritePlain writes the summary and transcript of rec without a TUI.
func WritePlain(w io.Writer, rec *Recording) {
	s := rec.Session
	var b bytes.Buffer
	fmt.Fprintln(&b, "## Summary")
	fmt.Fprintf(&b, "  ID:        %s\n", s.ID)
	fmt.Fprintf(&b, "  Work dir:  %s\n", s.WorkDir)
	fmt.Fprintf(&b, "  Shell:     %s\n", s.Shell)
	if s.Command != "" {
		fmt.Fprintf(&b, "  Command:   %s\n", s.Command)
	}
	fmt.Fprintf(&b, "  Started:   %s\n", s.StartTime.Format("2006-01-02 15:04:05 MST"))
	if s.StopTime != nil {
		fmt.Fprintf(&b, "  Duration:  %s\n", s.Duration().Round(time.Millisecond))
	}
	if s.ExitCode != nil {
		fmt.Fprintf(&b, "  Exit:      %d\n", *s.ExitCode)
	}
	fmt.Fprintf(&b, "  Output:    %s\n", bytesize.Format(s.OutputBytes))
	if s.LimitReached {
		fmt.Fprintln(&b, "  Limit:     reached")
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "## Log Files")
	for _, l := range s.Logs {
		fmt.Fprintf(&b, "  %-10s  %s\n", l.Role, l.Path)
	}
	for _, p := range rec.Problems {
		fmt.Fprintf(&b, "  ! %s\n", p)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "## Transcript")
	b.WriteString(PlainText(rec.Transcript))
	if n := len(rec.Transcript); n > 0 && rec.Transcript[n-1] != '\n' {
		b.WriteByte('\n')
	}
	_, _ = w.Write(b.Bytes())
}

// Run starts the TUI for the given recording.
func Run(rec *Recording) error {
	p := tea.NewProgram(New(rec), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
