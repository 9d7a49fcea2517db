package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/telemetry"
	"github.com/code-o-holic/ai-toolkit-telemetry/internal/viewer"
)

const watchRefresh = 2 * time.Second

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Style definitions.
var (
	watchTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	watchPanelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	watchHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("62")).
				MarginBottom(1)

	issueHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	issueMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	issueLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	watchHelpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
)

type watchModel struct {
	runName string
	runDir  string
	width   int
	height  int

	records []telemetry.Record
	issues  []viewer.Issue

	// pendingLogEvery is the staged control value; 0 means nothing staged.
	pendingLogEvery int
	statusLine      string

	err error
}

type runLoadedMsg struct {
	records []telemetry.Record
	issues  []viewer.Issue
	err     error
}

type refreshTickMsg struct{}

func newWatchModel(runName string) watchModel {
	return watchModel{
		runName: runName,
		runDir:  filepath.Join(Cfg.LogDir, runName),
	}
}

func (m watchModel) loadRun() tea.Msg {
	records, err := viewer.LoadRun(filepath.Join(m.runDir, "metrics.jsonl"))
	if err != nil {
		return runLoadedMsg{err: err}
	}
	return runLoadedMsg{
		records: records,
		issues:  viewer.DetectIssues(records, Cfg.Issues),
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(watchRefresh, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.loadRun, scheduleRefresh())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.loadRun
		case "+", "=":
			m.pendingLogEvery = m.nextLogEvery(1)
			m.statusLine = ""
			return m, nil
		case "-", "_":
			m.pendingLogEvery = m.nextLogEvery(-1)
			m.statusLine = ""
			return m, nil
		case "enter":
			if m.pendingLogEvery < 1 {
				return m, nil
			}
			if err := viewer.WriteControl(m.runDir, map[string]any{"log_every": m.pendingLogEvery}); err != nil {
				m.statusLine = fmt.Sprintf("control write failed: %v", err)
			} else {
				m.statusLine = fmt.Sprintf("requested log_every=%d (applies after debounce)", m.pendingLogEvery)
				m.pendingLogEvery = 0
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshTickMsg:
		return m, tea.Batch(m.loadRun, scheduleRefresh())

	case runLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.records = msg.records
		m.issues = msg.issues
		m.err = nil
		return m, nil
	}

	return m, nil
}

// nextLogEvery steps the staged value starting from the staged value, or 1.
func (m watchModel) nextLogEvery(delta int) int {
	v := m.pendingLogEvery
	if v == 0 {
		v = 1
	}
	v += delta
	if v < 1 {
		v = 1
	}
	return v
}

func (m watchModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := watchTitleStyle.Render(fmt.Sprintf(" %s ", m.runName))
	help := watchHelpStyle.Render("+/-: stage log-every | enter: send | r: refresh | q: quit")

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	panelWidth := m.width - 8
	if panelWidth < 30 {
		panelWidth = 30
	}

	metrics := watchPanelStyle.Width(panelWidth).Render(m.renderMetricsPanel(panelWidth))
	issues := watchPanelStyle.Width(panelWidth).Render(m.renderIssuesPanel())
	body := lipgloss.JoinVertical(lipgloss.Left, metrics, issues)

	var footer []string
	if m.pendingLogEvery > 0 {
		footer = append(footer, pendingStyle.Render(fmt.Sprintf("staged: log_every=%d (enter to send)", m.pendingLogEvery)))
	}
	if m.statusLine != "" {
		footer = append(footer, watchHelpStyle.Render(m.statusLine))
	}
	footer = append(footer, help)

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, strings.Join(footer, "\n"))
}

func (m watchModel) renderMetricsPanel(width int) string {
	var b strings.Builder
	b.WriteString(watchHeaderStyle.Render("Latest step"))
	b.WriteString("\n")

	steps := viewer.Steps(m.records)
	if len(steps) == 0 {
		b.WriteString("  No step records yet.")
		return b.String()
	}

	last := steps[len(steps)-1]
	keys := make([]string, 0, len(last.Fields))
	for k := range last.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("  %-22s %v\n", k, last.Fields[k]))
	}

	var losses []float64
	for _, r := range steps {
		if v, ok := r.Float("train_loss"); ok {
			losses = append(losses, v)
		}
	}
	if len(losses) > 1 {
		b.WriteString("\n")
		b.WriteString(watchHeaderStyle.Render("train_loss (smoothed)"))
		b.WriteString("\n  ")
		b.WriteString(sparkline(viewer.Smooth(losses, 0.1), width-6))
	}
	return b.String()
}

func (m watchModel) renderIssuesPanel() string {
	var b strings.Builder
	b.WriteString(watchHeaderStyle.Render("Issues"))
	b.WriteString("\n")

	if len(m.issues) == 0 {
		b.WriteString("  None detected.")
		return b.String()
	}
	for _, issue := range m.issues {
		label := fmt.Sprintf("  [%s] %s", strings.ToUpper(string(issue.Severity)), issue.Message)
		b.WriteString(styleForSeverity(issue.Severity).Render(label))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func styleForSeverity(s viewer.IssueSeverity) lipgloss.Style {
	switch s {
	case viewer.SeverityHigh:
		return issueHigh
	case viewer.SeverityMedium:
		return issueMedium
	default:
		return issueLow
	}
}

// sparkline renders values as a fixed-width run of block characters.
func sparkline(values []float64, width int) string {
	if len(values) == 0 || width < 1 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if span > 0 {
			idx = int((v - lo) / span * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

var watchCmd = &cobra.Command{
	Use:   "watch <run>",
	Short: "Live dashboard for a training run",
	Long: `Tail a run's metrics stream in a terminal dashboard: latest step metrics, a
smoothed loss sparkline, and detected issues, refreshed every two seconds.
Stage a log-every value with +/- and press enter to write the control file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tea.NewProgram(newWatchModel(args[0]), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("running watch dashboard: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
