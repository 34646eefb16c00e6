package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDefinition = `
id: latency_budget
constraint: Analyze ONLY latency budgets.
persona: You are an SRE who carries the pager.
questions:
  - Which path is slowest?
keywords: [latency, p99]
`

const sampleDefinitionList = `
- id: first_lens
  framework: "CONSTRAINT: first"
- id: second_lens
  framework: "CONSTRAINT: second"
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "latency_budget" || len(def.Questions) != 1 || def.Keywords[1] != "p99" {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func TestParseDefinitionYAMLRejectsInvalid(t *testing.T) {
	if _, err := ParseDefinitionYAML([]byte("  ")); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	if _, err := ParseDefinitionYAML([]byte("id: x\n")); err == nil {
		t.Fatalf("expected error for missing constraint text")
	}
	if _, err := ParseDefinitionYAML([]byte("id: [broken")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseDefinitionsYAMLAcceptsList(t *testing.T) {
	defs, err := ParseDefinitionsYAML([]byte(sampleDefinitionList))
	if err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if len(defs) != 2 || defs[0].ID != "first_lens" || defs[1].ID != "second_lens" {
		t.Fatalf("unexpected definitions %+v", defs)
	}
	_, err = ParseDefinitionsYAML([]byte("- id: ok\n  framework: x\n- id: bad\n"))
	if err == nil || !strings.Contains(err.Error(), "definition[1]") {
		t.Fatalf("expected indexed error, got %v", err)
	}
}

func TestLoadDefinitionDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("b.yaml", sampleDefinition)
	write("a.yml", sampleDefinitionList)
	write("notes.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	defs, err := LoadDefinitionDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	if !strings.HasSuffix(defs[0].Path, "a.yml#1") || !strings.HasSuffix(defs[2].Path, "b.yaml") {
		t.Fatalf("unexpected ordering: %s, %s", defs[0].Path, defs[2].Path)
	}
}

func TestLoadDefinitionDirMissing(t *testing.T) {
	defs, err := LoadDefinitionDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil || defs != nil {
		t.Fatalf("missing dir should yield no plugins, got %v %v", defs, err)
	}
}
