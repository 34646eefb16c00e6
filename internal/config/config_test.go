package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/council/internal/constraint"
	"github.com/kingrea/council/internal/council"
)

func writeConfig(t *testing.T, projectDir, body string) {
	t.Helper()
	councilDir := filepath.Join(projectDir, CouncilDir)
	if err := os.MkdirAll(councilDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(councilDir, "config.yaml"), []byte(strings.TrimSpace(body)), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	cfg, err := NewConfig(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	rc, err := cfg.RunConfig("review the code", Overrides{})
	if err != nil {
		t.Fatalf("RunConfig returned error: %v", err)
	}
	if rc.Members != 5 || rc.Timeout != 600*time.Second || !rc.Synthesize {
		t.Fatalf("unexpected defaults: %+v", rc)
	}
	if rc.Display != council.DisplaySynthesis || rc.Policy != constraint.PolicyUniform {
		t.Fatalf("unexpected display/policy: %s/%s", rc.Display, rc.Policy)
	}
	if len(rc.Mandatory) != 2 || rc.Mandatory[0] != "the_goal_goldratt" {
		t.Fatalf("unexpected mandatory: %v", rc.Mandatory)
	}
	if rc.Agent != "claude" || rc.MaxCapturedLines != 5000 {
		t.Fatalf("unexpected agent settings: %s %d", rc.Agent, rc.MaxCapturedLines)
	}
	if rc.WorkDir != cfg.ProjectDir {
		t.Fatalf("work dir = %s, want %s", rc.WorkDir, cfg.ProjectDir)
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
version: 1
defaults:
  members: 3
  timeout: 90
  model: opus
  synthesize: false
  display: ALL
  policy: relevance
  mandatory: [tests_beck, tests_beck, " crash_armstrong "]
agent:
  binary: /opt/bin/claude
  max_lines: 100
reports:
  save: true
`)
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if !cfg.Project.Reports.Save {
		t.Fatalf("expected reports.save")
	}
	rc, err := cfg.RunConfig("task", Overrides{})
	if err != nil {
		t.Fatalf("RunConfig returned error: %v", err)
	}
	if rc.Members != 3 || rc.Timeout != 90*time.Second || rc.Model != "opus" || rc.Synthesize {
		t.Fatalf("unexpected run config: %+v", rc)
	}
	if rc.Display != council.DisplayAll || rc.Policy != constraint.PolicyRelevance {
		t.Fatalf("unexpected display/policy: %s/%s", rc.Display, rc.Policy)
	}
	if len(rc.Mandatory) != 2 || rc.Mandatory[1] != "crash_armstrong" {
		t.Fatalf("unexpected mandatory: %v", rc.Mandatory)
	}
	if rc.Agent != "/opt/bin/claude" || rc.MaxCapturedLines != 100 {
		t.Fatalf("unexpected agent: %s %d", rc.Agent, rc.MaxCapturedLines)
	}
}

func TestOverridesWinOverFile(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
defaults:
  members: 3
  timeout: 2m
`)
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	members, timeout, display := 7, 30*time.Second, "all"
	none := []string{}
	rc, err := cfg.RunConfig("task", Overrides{Members: &members, Timeout: &timeout, Display: &display, Mandatory: &none})
	if err != nil {
		t.Fatalf("RunConfig returned error: %v", err)
	}
	if rc.Members != 7 || rc.Timeout != timeout || rc.Display != council.DisplayAll || len(rc.Mandatory) != 0 {
		t.Fatalf("overrides not applied: %+v", rc)
	}
	bad := "sideways"
	if _, err := cfg.RunConfig("task", Overrides{Policy: &bad}); err == nil {
		t.Fatalf("expected invalid policy error")
	}
	if _, err := cfg.RunConfig("  ", Overrides{}); err == nil {
		t.Fatalf("expected empty task error")
	}
}

func TestLoadProjectConfigRejectsInvalid(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
defaults:
  display: sometimes
`)
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestInitCouncilDirIsIdempotent(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitCouncilDir(projectDir); err != nil {
		t.Fatalf("init: %v", err)
	}
	path := filepath.Join(projectDir, CouncilDir, "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := InitCouncilDir(projectDir); err != nil {
		t.Fatalf("second init: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "version: 1\n" {
		t.Fatalf("init overwrote existing config: %q", data)
	}
	for _, dir := range []string{"constraints", "logs", "reports"} {
		if _, err := os.Stat(filepath.Join(projectDir, CouncilDir, dir)); err != nil {
			t.Fatalf("missing %s: %v", dir, err)
		}
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("config after init: %v", err)
	}
	if cfg.Project.Defaults.Members != 5 {
		t.Fatalf("defaults not applied to sparse file: %+v", cfg.Project.Defaults)
	}
}

func TestDefaultTemplateParses(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, defaultProjectConfigYAML)
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("default template invalid: %v", err)
	}
	if cfg.Project.Agent.Binary != "claude" || len(cfg.Project.Defaults.Mandatory) != 2 {
		t.Fatalf("unexpected template values: %+v", cfg.Project)
	}
}

func TestBuiltinMandatoryFitsSmallCouncils(t *testing.T) {
	cfg, err := NewConfig(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cases := map[int][]constraint.ID{
		1: {"the_goal_goldratt"},
		2: {"the_goal_goldratt", "urgency_musk"},
		3: {"the_goal_goldratt", "urgency_musk"},
	}
	for members, want := range cases {
		n := members
		rc, err := cfg.RunConfig("task", Overrides{Members: &n})
		if err != nil {
			t.Fatalf("members=%d: %v", members, err)
		}
		if len(rc.Mandatory) != len(want) {
			t.Fatalf("members=%d: mandatory = %v, want %v", members, rc.Mandatory, want)
		}
		for i := range want {
			if rc.Mandatory[i] != want[i] {
				t.Fatalf("members=%d: mandatory = %v, want %v", members, rc.Mandatory, want)
			}
		}
	}
}

func TestExplicitMandatoryIsNotTrimmed(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
defaults:
  members: 1
  mandatory: [tests_beck, crash_armstrong]
`)
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := cfg.RunConfig("task", Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rc.Mandatory) != 2 {
		t.Fatalf("file mandatory list was trimmed: %v", rc.Mandatory)
	}

	one := 1
	flags := []string{"tests_beck", "crash_armstrong"}
	rc, err = cfg.RunConfig("task", Overrides{Members: &one, Mandatory: &flags})
	if err != nil {
		t.Fatal(err)
	}
	if len(rc.Mandatory) != 2 {
		t.Fatalf("flag mandatory list was trimmed: %v", rc.Mandatory)
	}
}

func TestDefaultTemplateKeepsBuiltinMandatoryImplicit(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitCouncilDir(projectDir); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	one := 1
	rc, err := cfg.RunConfig("task", Overrides{Members: &one})
	if err != nil {
		t.Fatal(err)
	}
	if len(rc.Mandatory) != 1 || cfg.Project.Agent.MaxBytes != council.DefaultMaxCapturedBytes {
		t.Fatalf("unexpected config after init: %v %+v", rc.Mandatory, cfg.Project.Agent)
	}
}
