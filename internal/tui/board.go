// internal/tui/board.go
//
// The live board follows a council run while it executes. It is a bubbletea
// program fed by the event router: every lifecycle event becomes a message,
// Update folds it into the member rows and View redraws them.

package tui

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/council/internal/council"
	"github.com/kingrea/council/internal/events"
	"github.com/kingrea/council/internal/logbook"
)

const (
	clockInterval = time.Second
	logPanelLines = 6
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	bodyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	mandatoryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	stateStyles    = map[string]lipgloss.Style{
		council.StateRunning.String():   lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
		council.StateCompleted.String(): lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")),
		council.StateFailed.String():    lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),
		council.StateTimedOut.String():  lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
)

// eventMsg carries one router event into Update.
type eventMsg events.Event

// streamClosedMsg signals that the subscription ended.
type streamClosedMsg struct{}

type clockMsg time.Time

type memberRow struct {
	member     int
	constraint string
	mandatory  bool
	state      string
	reason     string
	elapsed    time.Duration
}

// Option customizes a Board.
type Option func(*Board)

// WithLogbook shows the tail of the run journal under the member rows.
func WithLogbook(lb *logbook.Logbook) Option {
	return func(b *Board) {
		b.logbook = lb
	}
}

// WithInterrupt registers the function called when the user presses ctrl+c.
// The board keeps running until the run reports it finished.
func WithInterrupt(fn func()) Option {
	return func(b *Board) {
		b.interrupt = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Board) {
		if now != nil {
			b.now = now
		}
	}
}

// Board is the bubbletea model for a running council.
type Board struct {
	runID   string
	task    string
	timeout time.Duration
	start   time.Time
	rows    []memberRow
	stream  <-chan events.Event

	logbook   *logbook.Logbook
	interrupt func()
	now       func() time.Time

	spinner  spinner.Model
	progress progress.Model
	width    int

	phase        string
	deadlineHit  bool
	interrupting bool
	finished     bool
	lastSeq      int64
}

// NewBoard builds a board for run that consumes stream.
func NewBoard(run *council.Run, stream <-chan events.Event, opts ...Option) *Board {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle
	b := &Board{
		runID:    run.ID,
		task:     run.Config.Task,
		timeout:  run.Config.Timeout,
		start:    run.StartTime,
		stream:   stream,
		now:      time.Now,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
		phase:    "members analyzing",
	}
	for _, h := range run.Handles {
		b.rows = append(b.rows, memberRow{
			member:     h.Member(),
			constraint: string(h.Assignment.ConstraintID),
			mandatory:  h.Assignment.Mandatory,
			state:      council.StateRunning.String(),
		})
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.start.IsZero() {
		b.start = b.now()
	}
	return b
}

// Finished reports whether the run finished event has been seen.
func (b *Board) Finished() bool {
	return b.finished
}

// Init starts the spinner, the clock and the event pump.
func (b *Board) Init() tea.Cmd {
	return tea.Batch(b.spinner.Tick, b.waitForEvent(), b.tickClock())
}

func (b *Board) waitForEvent() tea.Cmd {
	stream := b.stream
	return func() tea.Msg {
		ev, ok := <-stream
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (b *Board) tickClock() tea.Cmd {
	return tea.Tick(clockInterval, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

// Update folds messages into board state.
func (b *Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width = msg.Width
		b.progress.Width = max(10, msg.Width-8)
		return b, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if b.finished {
				return b, tea.Quit
			}
			if !b.interrupting {
				b.interrupting = true
				b.phase = "interrupting, stopping members"
				if b.interrupt != nil {
					b.interrupt()
				}
			}
			return b, nil
		case "q", "esc":
			if b.finished {
				return b, tea.Quit
			}
		}
		return b, nil

	case eventMsg:
		b.apply(events.Event(msg))
		if b.finished {
			return b, tea.Quit
		}
		return b, b.waitForEvent()

	case streamClosedMsg:
		b.finished = true
		return b, tea.Quit

	case clockMsg:
		if b.finished {
			return b, nil
		}
		return b, b.tickClock()

	case spinner.TickMsg:
		var cmd tea.Cmd
		b.spinner, cmd = b.spinner.Update(msg)
		return b, cmd
	}
	return b, nil
}

func (b *Board) apply(ev events.Event) {
	if ev.RunID != "" && b.runID != "" && ev.RunID != b.runID {
		return
	}
	if ev.Sequence > 0 {
		if ev.Sequence <= b.lastSeq {
			return
		}
		b.lastSeq = ev.Sequence
	}
	switch ev.Type {
	case events.MemberExited:
		if row := b.row(ev.Member); row != nil {
			row.state = ev.State
			row.reason = ev.Message
			row.elapsed = ev.Elapsed
		}
	case events.DeadlineReached:
		b.deadlineHit = true
		b.phase = fmt.Sprintf("deadline reached after %s", ev.Message)
	case events.SweepFinished:
		b.phase = fmt.Sprintf("process groups swept (%s)", ev.Message)
	case events.SynthesisStarted:
		b.phase = "synthesizing"
	case events.SynthesisDone:
		if ev.State == council.StateCompleted.String() {
			b.phase = "synthesis complete"
		} else {
			b.phase = "synthesis failed, showing individual analyses"
		}
	case events.RunFinished:
		b.finished = true
		b.phase = "finished"
	}
}

func (b *Board) row(member int) *memberRow {
	for i := range b.rows {
		if b.rows[i].member == member {
			return &b.rows[i]
		}
	}
	return nil
}

func (b *Board) counts() (done, total int) {
	for _, row := range b.rows {
		if row.state != council.StateRunning.String() {
			done++
		}
	}
	return done, len(b.rows)
}

// View renders the board.
func (b *Board) View() string {
	width := b.width
	if width <= 0 {
		width = 80
	}
	done, total := b.counts()
	elapsed := b.now().Sub(b.start).Round(time.Second)

	var header strings.Builder
	header.WriteString(headerStyle.Render("⬡ COUNCIL"))
	header.WriteString(dimStyle.Render(fmt.Sprintf("  run %s", shortID(b.runID))))
	header.WriteString("\n")
	header.WriteString(bodyStyle.Render(truncate(oneLine(b.task), max(20, width-4))))

	status := fmt.Sprintf("%d/%d finished · %s elapsed", done, total, elapsed)
	if b.timeout > 0 {
		status += fmt.Sprintf(" of %s", b.timeout)
	}
	lead := b.spinner.View() + " "
	if b.finished {
		lead = ""
	}
	fraction := 0.0
	if total > 0 {
		fraction = float64(done) / float64(total)
	}
	statusBlock := lipgloss.JoinVertical(lipgloss.Left,
		lead+titleStyle.Render(b.phase),
		b.progress.ViewAs(fraction),
		dimStyle.Render(status),
	)

	rows := make([]string, 0, len(b.rows))
	for _, row := range b.rows {
		rows = append(rows, b.renderRow(row, width-4))
	}
	members := boxStyle.Width(max(20, width-2)).Render(strings.Join(rows, "\n"))

	sections := []string{header.String(), "", statusBlock, members}
	if panel := b.renderLogPanel(width - 2); panel != "" {
		sections = append(sections, panel)
	}
	hint := "ctrl+c → stop the council"
	if b.interrupting {
		hint = "stopping members…"
	}
	if b.finished {
		hint = "q → close"
	}
	sections = append(sections, dimStyle.Render(hint))
	return strings.Join(sections, "\n")
}

func (b *Board) renderRow(row memberRow, width int) string {
	style, ok := stateStyles[row.state]
	if !ok {
		style = bodyStyle
	}
	label := fmt.Sprintf("#%d %s", row.member, strings.ToUpper(row.constraint))
	if row.mandatory {
		label += mandatoryStyle.Render(" ★")
	}
	detail := row.state
	if row.state == council.StateRunning.String() {
		detail = "running " + b.now().Sub(b.start).Round(time.Second).String()
	} else if row.elapsed > 0 {
		detail = fmt.Sprintf("%s %.1fs", row.state, row.elapsed.Seconds())
	}
	if row.reason != "" && row.state != council.StateCompleted.String() {
		detail += " · " + truncate(oneLine(row.reason), 40)
	}
	line := fmt.Sprintf("%s  %s", label, style.Render(detail))
	return lipgloss.NewStyle().Width(max(20, width)).Render(line)
}

func (b *Board) renderLogPanel(width int) string {
	if b.logbook == nil {
		return ""
	}
	lines, total := b.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(b.logbook.Path())
	head := titleStyle.Render(fmt.Sprintf("LOG · %s (%d)", fileName, total))
	rendered := make([]string, 0, len(lines))
	for _, line := range lines {
		rendered = append(rendered, renderLogLine(line))
	}
	body := strings.Join(rendered, "\n")
	return boxStyle.Width(max(20, width)).Render(head + "\n" + body)
}

func renderLogLine(line string) string {
	entry, ok := logbook.ParseEntry(line)
	if !ok {
		return bodyStyle.Render(line)
	}
	style := bodyStyle
	switch entry.Level {
	case logbook.LevelWarn:
		style = stateStyles[council.StateTimedOut.String()]
	case logbook.LevelError:
		style = stateStyles[council.StateFailed.String()]
	}
	stamp := dimStyle.Render(entry.Time.Local().Format(time.TimeOnly))
	return stamp + " " + style.Render(entry.Message)
}

// Run shows the board on out until the run finishes or ctx is done.
func Run(ctx context.Context, board *Board, in io.Reader, out io.Writer) error {
	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(out)}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	} else {
		opts = append(opts, tea.WithInput(nil))
	}
	_, err := tea.NewProgram(board, opts...).Run()
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 3 || len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
