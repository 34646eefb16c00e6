package council

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/council/internal/constraint"
)

// Section is one member's contribution to the report.
type Section struct {
	Member       int
	ConstraintID constraint.ID
	Mandatory    bool
	State        State
	ExitCode     int
	Reason       string
	Duration     time.Duration
	Output       string
}

// Tally counts members per terminal state.
type Tally struct {
	Completed int
	Failed    int
	TimedOut  int
}

// Total is the number of members counted.
func (t Tally) Total() int {
	return t.Completed + t.Failed + t.TimedOut
}

// Synthesis is the outcome of the second-pass consolidation.
type Synthesis struct {
	Text    string
	Err     error
	Elapsed time.Duration
}

// Succeeded reports whether a usable synthesis was produced.
func (s *Synthesis) Succeeded() bool {
	return s != nil && s.Err == nil && strings.TrimSpace(s.Text) != ""
}

// Report is the aggregated result of a run.
type Report struct {
	RunID      string
	Task       string
	Members    int
	Timestamp  time.Time
	Timeout    time.Duration
	Model      string
	Policy     constraint.Policy
	Display    DisplayMode
	Repository string

	Sections  []Section
	Tally     Tally
	Synthesis *Synthesis

	Interrupted      bool
	MembersElapsed   time.Duration
	SynthesisElapsed time.Duration
	TotalElapsed     time.Duration
}

// ShowMembers reports whether member sections should be displayed: always in
// "all" mode, and whenever there is no usable synthesis to stand in for them.
func (r *Report) ShowMembers() bool {
	return r.Display == DisplayAll || !r.Synthesis.Succeeded()
}

// Collect assembles the report in ascending member order. Unreadable or
// empty sinks yield Placeholder; partial output of failed or timed-out
// members is kept.
func Collect(run *Run) *Report {
	cfg := run.Config
	report := &Report{
		RunID:      run.ID,
		Task:       cfg.Task,
		Members:    len(run.Handles),
		Timestamp:  run.StartTime,
		Timeout:    cfg.Timeout,
		Model:      cfg.Model,
		Policy:     cfg.Policy,
		Display:    cfg.Display,
		Repository: run.Repository,
		Sections:   make([]Section, len(run.Handles)),
	}
	for _, h := range run.Handles {
		st := h.Status()
		sec := Section{
			Member:       h.Member(),
			ConstraintID: h.Assignment.ConstraintID,
			Mandatory:    h.Assignment.Mandatory,
			State:        st.State,
			ExitCode:     st.ExitCode,
			Reason:       st.Reason,
			Duration:     st.Duration(),
			Output:       Placeholder,
		}
		if h.Sink != nil {
			text, err := h.Sink.Content()
			switch {
			case err != nil:
				run.log().Warn("sink unreadable", zap.Int("member", h.Member()), zap.Error(err))
			case strings.TrimSpace(text) != "":
				sec.Output = strings.TrimRight(text, "\n")
			}
		}
		switch st.State {
		case StateCompleted:
			report.Tally.Completed++
		case StateFailed:
			report.Tally.Failed++
		case StateTimedOut:
			report.Tally.TimedOut++
		}
		report.Sections[h.Member()-1] = sec
	}
	return report
}
