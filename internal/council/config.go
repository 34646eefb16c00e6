package council

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kingrea/council/internal/constraint"
)

const (
	DefaultMembers          = 5
	DefaultTimeout          = 600 * time.Second
	DefaultAgent            = "claude"
	DefaultMaxCapturedLines = 5000
	DefaultMaxCapturedBytes = 500_000

	// DefaultPollInterval paces liveness re-checks of running members.
	DefaultPollInterval = time.Second
	// DefaultProgressInterval paces the coarse "still running" notifications.
	DefaultProgressInterval = 30 * time.Second
	// DefaultGracePeriod is how long a swept group gets between SIGTERM and
	// SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// DisplayMode selects which report sections reach the terminal.
type DisplayMode string

const (
	// DisplaySynthesis shows the synthesis alone when it succeeded.
	DisplaySynthesis DisplayMode = "synthesis"
	// DisplayAll always shows every member section.
	DisplayAll DisplayMode = "all"
)

// ParseDisplayMode accepts "synthesis" (or empty) and "all".
func ParseDisplayMode(raw string) (DisplayMode, error) {
	switch mode := DisplayMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return DisplaySynthesis, nil
	case DisplaySynthesis, DisplayAll:
		return mode, nil
	default:
		return "", fmt.Errorf("council: unknown display mode %q", raw)
	}
}

// RunConfig is the complete, immutable input of one council run. It is
// passed by value; nothing in the engine reads ambient globals.
type RunConfig struct {
	Task       string
	Members    int
	Timeout    time.Duration
	Model      string
	Synthesize bool
	Display    DisplayMode
	Policy     constraint.Policy
	Mandatory  []constraint.ID

	// Agent is the executable name or path invoked for every member.
	Agent string
	// WorkDir is the tree the agents analyze. Empty means the current
	// directory.
	WorkDir          string
	MaxCapturedLines int
	MaxCapturedBytes int
	GracePeriod      time.Duration
}

// DefaultRunConfig returns the stock configuration for task.
func DefaultRunConfig(task string) RunConfig {
	return RunConfig{
		Task:             task,
		Members:          DefaultMembers,
		Timeout:          DefaultTimeout,
		Synthesize:       true,
		Display:          DisplaySynthesis,
		Policy:           constraint.PolicyUniform,
		Mandatory:        constraint.Builtin().DefaultMandatory(),
		Agent:            DefaultAgent,
		MaxCapturedLines: DefaultMaxCapturedLines,
		MaxCapturedBytes: DefaultMaxCapturedBytes,
		GracePeriod:      DefaultGracePeriod,
	}
}

// Validate reports configuration errors that do not depend on the catalog.
func (c RunConfig) Validate() error {
	if strings.TrimSpace(c.Task) == "" {
		return fmt.Errorf("council: task is required")
	}
	if c.Members < 1 {
		return fmt.Errorf("council: %w: %d", constraint.ErrInvalidMemberCount, c.Members)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("council: timeout must be positive, got %s", c.Timeout)
	}
	if strings.TrimSpace(c.Agent) == "" {
		return fmt.Errorf("council: agent binary is required")
	}
	if _, err := ParseDisplayMode(string(c.Display)); err != nil {
		return err
	}
	if _, err := constraint.ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	return nil
}

// normalized fills zero values with defaults and detaches the mandatory
// slice from the caller.
func (c RunConfig) normalized() RunConfig {
	c.Task = strings.TrimSpace(c.Task)
	c.Model = strings.TrimSpace(c.Model)
	c.Agent = strings.TrimSpace(c.Agent)
	if c.Display == "" {
		c.Display = DisplaySynthesis
	}
	if c.Policy == "" {
		c.Policy = constraint.PolicyUniform
	}
	if c.MaxCapturedLines <= 0 {
		c.MaxCapturedLines = DefaultMaxCapturedLines
	}
	if c.MaxCapturedBytes <= 0 {
		c.MaxCapturedBytes = DefaultMaxCapturedBytes
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	c.Mandatory = slices.Clone(c.Mandatory)
	return c
}
