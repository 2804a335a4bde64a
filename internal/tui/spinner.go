package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Step is one unit of a multi-step operation. Run must return promptly once
// ctx is cancelled.
type Step struct {
	Title string
	Run   func(ctx context.Context) (string, error)
}

// StepResult is what a step produced.
type StepResult struct {
	Title   string        `json:"title" yaml:"title"`
	Detail  string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Err     error         `json:"-" yaml:"-"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

// progressOut receives spinners and the plain fallback. Stdout is left for
// command results so structured output stays parseable.
var progressOut io.Writer = os.Stderr

// SetProgressOutput redirects progress rendering.
func SetProgressOutput(w io.Writer) {
	if w != nil {
		progressOut = w
	}
}

type stepDoneMsg struct {
	index   int
	detail  string
	err     error
	elapsed time.Duration
}

type multiStepModel struct {
	ctx        context.Context
	cancel     context.CancelFunc
	spinner    spinner.Model
	steps      []Step
	results    []StepResult
	current    int
	done       bool
	cancelling bool
	title      string
}

func newMultiStepModel(ctx context.Context, cancel context.CancelFunc, title string, steps []Step) multiStepModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(ColorAccent)
	return multiStepModel{
		ctx:     ctx,
		cancel:  cancel,
		spinner: s,
		steps:   steps,
		results: make([]StepResult, len(steps)),
		title:   title,
	}
}

func (m multiStepModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.runStep(0))
}

func (m multiStepModel) runStep(index int) tea.Cmd {
	ctx := m.ctx
	step := m.steps[index]
	return func() tea.Msg {
		start := time.Now()
		detail, err := step.Run(ctx)
		return stepDoneMsg{index: index, detail: detail, err: err, elapsed: time.Since(start)}
	}
}

func (m multiStepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stepDoneMsg:
		m.results[msg.index] = StepResult{
			Title:   m.steps[msg.index].Title,
			Detail:  msg.detail,
			Err:     msg.err,
			Elapsed: msg.elapsed,
		}
		m.current = msg.index + 1
		if msg.err == nil && m.ctx.Err() != nil {
			// cancelled between steps
			m.results[msg.index].Err = m.ctx.Err()
		}
		if m.results[msg.index].Err != nil || m.current >= len(m.steps) {
			m.done = true
			return m, tea.Quit
		}
		return m, m.runStep(m.current)

	case tea.KeyMsg:
		// The running step sees the cancelled context and reports back.
		if msg.String() == "ctrl+c" && !m.cancelling {
			m.cancelling = true
			m.cancel()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m multiStepModel) View() string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render(m.title))
	sb.WriteString("\n\n")

	for i, step := range m.steps {
		switch {
		case i < m.current:
			sb.WriteString(renderResult(m.results[i]))
		case i == m.current && !m.done:
			sb.WriteString(fmt.Sprintf("  %s %s\n", m.spinner.View(), step.Title))
		default:
			sb.WriteString(fmt.Sprintf("  %s %s\n", MutedStyle.Render(IconPending), MutedStyle.Render(step.Title)))
		}
	}

	switch {
	case m.cancelling && !m.done:
		sb.WriteString(WarningStyle.Render("\n  cancelling, waiting for the current step to stop"))
	case !m.done:
		sb.WriteString(MutedStyle.Render("\n  ctrl+c to cancel"))
	}
	return sb.String()
}

func renderResult(r StepResult) string {
	if r.Err != nil {
		return fmt.Sprintf("  %s %s  %s\n", ErrorStyle.Render(IconCross), r.Title, ErrorStyle.Render(firstLine(r.Err.Error())))
	}
	line := fmt.Sprintf("  %s %s %s", SuccessStyle.Render(IconCheck), r.Title,
		MutedStyle.Render(fmt.Sprintf("(%s)", r.Elapsed.Round(time.Millisecond))))
	if r.Detail != "" {
		line += MutedStyle.Render(" " + r.Detail)
	}
	return line + "\n"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// RunSteps runs steps in order and stops at the first error. Interactive
// terminals get an animated checklist where ctrl+c cancels ctx; otherwise
// each step prints one plain line.
func RunSteps(ctx context.Context, title string, steps []Step) ([]StepResult, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !IsInteractive() || IsStructured() {
		return runPlain(ctx, title, steps)
	}

	m := newMultiStepModel(ctx, cancel, title, steps)
	p := tea.NewProgram(m, tea.WithOutput(progressOut))
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	rm := final.(multiStepModel)
	for _, r := range rm.results[:rm.current] {
		if r.Err != nil {
			return rm.results[:rm.current], r.Err
		}
	}
	return rm.results, nil
}

func runPlain(ctx context.Context, title string, steps []Step) ([]StepResult, error) {
	quiet := IsStructured()
	if !quiet {
		fmt.Fprintln(progressOut, title)
	}
	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		detail, err := step.Run(ctx)
		r := StepResult{Title: step.Title, Detail: detail, Err: err, Elapsed: time.Since(start)}
		results = append(results, r)
		if !quiet {
			fmt.Fprint(progressOut, renderResult(r))
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Spin runs a single operation as a one-step checklist.
func Spin(ctx context.Context, title string, fn func(ctx context.Context) (string, error)) (string, error) {
	results, err := RunSteps(ctx, title, []Step{{Title: title, Run: fn}})
	if len(results) == 0 {
		return "", err
	}
	return results[0].Detail, err
}
