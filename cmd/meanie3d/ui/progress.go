package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"meanie3d/internal/tracking"
)

// EventMsg carries a tracking event into the progress program.
type EventMsg tracking.Event

// DoneMsg ends the progress program with the result of the work.
type DoneMsg struct{ Err error }

// chain is the progress of one scale and time index.
type chain struct {
	total    int
	finished map[int]bool
	failed   int
	skipped  int
	current  string
}

func chainKey(scale string, t int) string {
	if t == tracking.NoTimeIndex {
		return scale
	}
	return fmt.Sprintf("%s t=%d", scale, t)
}

// ProgressModel shows one bar over all files and a line per scale.
type ProgressModel struct {
	styles   Styles
	progress progress.Model
	spinner  spinner.Model

	chains map[string]*chain
	done   bool
	err    error
}

// NewProgressModel creates the model.
func NewProgressModel(styles Styles) ProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner
	return ProgressModel{
		styles:   styles,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		spinner:  sp,
		chains:   map[string]*chain{},
	}
}

// Init starts the spinner.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles events, completion and interrupts.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EventMsg:
		m.apply(tracking.Event(msg))
		return m, nil
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.progress.Width = min(max(msg.Width-20, 10), 80)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *ProgressModel) apply(ev tracking.Event) {
	key := chainKey(ev.Scale, ev.TimeIndex)
	c, ok := m.chains[key]
	if !ok {
		c = &chain{finished: map[int]bool{}}
		m.chains[key] = c
	}
	c.total = ev.Total
	switch ev.Status {
	case tracking.StatusRunning:
		c.current = fmt.Sprintf("%s %s", ev.Stage, filepath.Base(ev.File))
	case tracking.StatusFailed:
		c.failed++
		c.finished[ev.Index] = true
	case tracking.StatusSkipped:
		c.skipped++
		c.finished[ev.Index] = true
	case tracking.StatusSucceeded:
		if ev.Stage == tracking.StageDetect {
			c.finished[ev.Index] = true
		}
	}
}

// Percent is the share of finished files over all chains.
func (m ProgressModel) Percent() float64 {
	total, finished := 0, 0
	for _, c := range m.chains {
		total += c.total
		finished += len(c.finished)
	}
	if total == 0 {
		return 0
	}
	return float64(finished) / float64(total)
}

// Err returns the result delivered with DoneMsg.
func (m ProgressModel) Err() error { return m.err }

// View renders the bar and the per scale lines.
func (m ProgressModel) View() string {
	var sb strings.Builder
	head := m.spinner.View() + " "
	if m.done {
		head = m.styles.Success.Render("✓ ")
		if m.err != nil {
			head = m.styles.Error.Render("✗ ")
		}
	}
	sb.WriteString(head + m.progress.ViewAs(m.Percent()) + "\n")

	keys := make([]string, 0, len(m.chains))
	for k := range m.chains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c := m.chains[k]
		label := k
		if label == "" {
			label = "clustering"
		}
		line := fmt.Sprintf("  %-14s %3d/%-3d", label, len(c.finished), c.total)
		if c.skipped > 0 {
			line += m.styles.Muted.Render(fmt.Sprintf(" %d skipped", c.skipped))
		}
		if c.failed > 0 {
			line += m.styles.Error.Render(fmt.Sprintf(" %d failed", c.failed))
		}
		if !m.done && c.current != "" && len(c.finished) < c.total {
			line += m.styles.Muted.Render("  " + c.current)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// RunProgress runs work while displaying its events and returns the error
// of work once both have finished.
func RunProgress(out io.Writer, styles Styles, work func(observer tracking.Observer) error) error {
	p := tea.NewProgram(NewProgressModel(styles), tea.WithOutput(out), tea.WithInput(nil))

	result := make(chan error, 1)
	go func() {
		err := work(func(ev tracking.Event) { p.Send(EventMsg(ev)) })
		result <- err
		p.Send(DoneMsg{Err: err})
	}()

	_, runErr := p.Run()
	if err := <-result; err != nil {
		return err
	}
	return runErr
}
