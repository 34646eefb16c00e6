// internal/config/config.go
//
// This package handles configuration and the .council directory structure.
// `council init` creates a .council/ folder in the project root; every run
// reads .council/config.yaml when it exists.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/council/internal/constraint"
	"github.com/kingrea/council/internal/council"
)

const (
	// CouncilDir is the name of the directory we create in each project
	CouncilDir = ".council"
)

const defaultProjectConfigYAML = `# council project configuration
version: 1

defaults:
  members: 5
  timeout: 600s
  # model: opus
  synthesize: true
  # synthesis | all
  display: synthesis
  # uniform | relevance
  policy: uniform
  # mandatory defaults to the_goal_goldratt and urgency_musk, trimmed to
  # the member count. A list given here must fit the member count.
  # mandatory:
  #   - the_goal_goldratt
  #   - urgency_musk

agent:
  binary: claude
  max_lines: 5000
  max_bytes: 500000

reports:
  save: false
`

// Defaults holds the values used when a flag is not given.
type Defaults struct {
	Members    int      `yaml:"members"`
	Timeout    Duration `yaml:"timeout"`
	Model      string   `yaml:"model,omitempty"`
	Synthesize *bool    `yaml:"synthesize,omitempty"`
	Display    string   `yaml:"display"`
	Policy     string   `yaml:"policy"`
	Mandatory  []string `yaml:"mandatory"`
}

// AgentConfig selects the agent executable.
type AgentConfig struct {
	Binary   string `yaml:"binary"`
	MaxLines int    `yaml:"max_lines"`
	MaxBytes int    `yaml:"max_bytes"`
}

// ReportsConfig controls report archiving.
type ReportsConfig struct {
	Save bool `yaml:"save"`
}

// ProjectConfig models .council/config.yaml.
type ProjectConfig struct {
	Version  int           `yaml:"version"`
	Defaults Defaults      `yaml:"defaults"`
	Agent    AgentConfig   `yaml:"agent"`
	Reports  ReportsConfig `yaml:"reports"`
}

// Duration accepts "90s"/"10m" strings or bare seconds in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var secs int
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds the runtime configuration for council.
type Config struct {
	// ProjectDir is the directory where the user ran `council` from
	ProjectDir string

	// CouncilProjectDir is ProjectDir/.council
	CouncilProjectDir string

	Project ProjectConfig

	// mandatorySet records whether defaults.mandatory came from the file.
	mandatorySet bool
}

// InitCouncilDir creates the .council directory structure in the given project directory.
//
// Structure created:
// .council/
// ├── config.yaml
// ├── constraints/  <- YAML and Go constraint plugins
// ├── logs/         <- council.log and journal.log
// └── reports/      <- saved reports
func InitCouncilDir(projectDir string) error {
	councilDir := filepath.Join(projectDir, CouncilDir)
	dirs := []string{
		filepath.Join(councilDir, "constraints"),
		filepath.Join(councilDir, "logs"),
		filepath.Join(councilDir, "reports"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(councilDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
// A missing .council directory is not an error; defaults apply.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:        projectDir,
		CouncilProjectDir: filepath.Join(projectDir, CouncilDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.CouncilProjectDir, "logs")
}

// JournalPath returns the run journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// ReportsDir returns where saved reports go.
func (c *Config) ReportsDir() string {
	return filepath.Join(c.CouncilProjectDir, "reports")
}

// ConstraintsDir returns the constraint plugin directory.
func (c *Config) ConstraintsDir() string {
	return filepath.Join(c.CouncilProjectDir, "constraints")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.CouncilProjectDir, "config.yaml")
}

// Overrides are command-line values. Nil pointers leave the file value alone.
type Overrides struct {
	Members    *int
	Timeout    *time.Duration
	Model      *string
	Synthesize *bool
	Display    *string
	Policy     *string
	Mandatory  *[]string
	Agent      *string
	WorkDir    string
}

// RunConfig merges file defaults with overrides into one immutable value.
func (c *Config) RunConfig(task string, o Overrides) (council.RunConfig, error) {
	d := c.Project.Defaults
	rc := council.DefaultRunConfig(task)
	rc.Members = d.Members
	rc.Timeout = time.Duration(d.Timeout)
	rc.Model = d.Model
	if d.Synthesize != nil {
		rc.Synthesize = *d.Synthesize
	}
	rc.Mandatory = toIDs(d.Mandatory)
	rc.Agent = c.Project.Agent.Binary
	rc.MaxCapturedLines = c.Project.Agent.MaxLines
	rc.MaxCapturedBytes = c.Project.Agent.MaxBytes
	display, policy := d.Display, d.Policy

	if o.Members != nil {
		rc.Members = *o.Members
	}
	if o.Timeout != nil {
		rc.Timeout = *o.Timeout
	}
	if o.Model != nil {
		rc.Model = strings.TrimSpace(*o.Model)
	}
	if o.Synthesize != nil {
		rc.Synthesize = *o.Synthesize
	}
	if o.Display != nil {
		display = *o.Display
	}
	if o.Policy != nil {
		policy = *o.Policy
	}
	if o.Mandatory != nil {
		rc.Mandatory = toIDs(*o.Mandatory)
	} else if !c.mandatorySet && rc.Members >= 1 && len(rc.Mandatory) > rc.Members {
		// The built-in mandatory pair yields to small councils; only an
		// explicit list is held to the member count.
		rc.Mandatory = rc.Mandatory[:rc.Members]
	}
	if o.Agent != nil && strings.TrimSpace(*o.Agent) != "" {
		rc.Agent = strings.TrimSpace(*o.Agent)
	}
	rc.WorkDir = o.WorkDir
	if rc.WorkDir == "" {
		rc.WorkDir = c.ProjectDir
	}

	var err error
	if rc.Display, err = council.ParseDisplayMode(display); err != nil {
		return council.RunConfig{}, err
	}
	if rc.Policy, err = constraint.ParsePolicy(policy); err != nil {
		return council.RunConfig{}, err
	}
	if err := rc.Validate(); err != nil {
		return council.RunConfig{}, err
	}
	return rc, nil
}

func toIDs(values []string) []constraint.ID {
	ids := make([]constraint.ID, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			ids = append(ids, constraint.ID(v))
		}
	}
	return ids
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	parsed.Defaults.Mandatory = nil
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	mandatorySet := parsed.Defaults.Mandatory != nil
	if !mandatorySet {
		parsed.Defaults.Mandatory = defaultMandatory()
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	c.mandatorySet = mandatorySet
	return nil
}

func defaultMandatory() []string {
	var out []string
	for _, id := range constraint.Builtin().DefaultMandatory() {
		out = append(out, string(id))
	}
	return out
}

func defaultProjectConfig() ProjectConfig {
	synthesize := true
	return ProjectConfig{
		Version: 1,
		Defaults: Defaults{
			Members:    council.DefaultMembers,
			Timeout:    Duration(council.DefaultTimeout),
			Synthesize: &synthesize,
			Display:    string(council.DisplaySynthesis),
			Policy:     string(constraint.PolicyUniform),
			Mandatory:  defaultMandatory(),
		},
		Agent: AgentConfig{
			Binary:   council.DefaultAgent,
			MaxLines: council.DefaultMaxCapturedLines,
			MaxBytes: council.DefaultMaxCapturedBytes,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Defaults.Members == 0 {
		pc.Defaults.Members = council.DefaultMembers
	}
	if pc.Defaults.Timeout == 0 {
		pc.Defaults.Timeout = Duration(council.DefaultTimeout)
	}
	if pc.Agent.MaxLines == 0 {
		pc.Agent.MaxLines = council.DefaultMaxCapturedLines
	}
	if pc.Agent.MaxBytes == 0 {
		pc.Agent.MaxBytes = council.DefaultMaxCapturedBytes
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Defaults.Model = strings.TrimSpace(pc.Defaults.Model)
	pc.Defaults.Display = normalizeValue(pc.Defaults.Display)
	pc.Defaults.Policy = normalizeValue(pc.Defaults.Policy)
	pc.Agent.Binary = strings.TrimSpace(pc.Agent.Binary)
	if pc.Agent.Binary == "" {
		pc.Agent.Binary = council.DefaultAgent
	}
	seen := map[string]bool{}
	mandatory := pc.Defaults.Mandatory[:0]
	for _, id := range pc.Defaults.Mandatory {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		mandatory = append(mandatory, id)
	}
	pc.Defaults.Mandatory = mandatory
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Defaults.Members < 1 {
		return fmt.Errorf("defaults.members must be >= 1")
	}
	if pc.Defaults.Timeout < 0 {
		return fmt.Errorf("defaults.timeout must be positive")
	}
	if _, err := council.ParseDisplayMode(pc.Defaults.Display); err != nil {
		return fmt.Errorf("defaults.display: %w", err)
	}
	if _, err := constraint.ParsePolicy(pc.Defaults.Policy); err != nil {
		return fmt.Errorf("defaults.policy: %w", err)
	}
	if pc.Agent.MaxLines < 0 {
		return fmt.Errorf("agent.max_lines must be >= 0")
	}
	if pc.Agent.MaxBytes < 0 {
		return fmt.Errorf("agent.max_bytes must be >= 0")
	}
	return nil
}

func normalizeValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
