package plugins

import (
	"strings"
	"testing"

	"github.com/kingrea/council/internal/constraint"
)

func TestConstraintDefinitionValidate(t *testing.T) {
	cases := []struct {
		name    string
		def     ConstraintDefinition
		wantErr string
	}{
		{name: "ok framework", def: ConstraintDefinition{ID: "ops", Framework: "CONSTRAINT: ops"}},
		{name: "ok constraint", def: ConstraintDefinition{ID: "ops", Constraint: "Only ops"}},
		{name: "missing id", def: ConstraintDefinition{Framework: "x"}, wantErr: "id is required"},
		{name: "bracket id", def: ConstraintDefinition{ID: "[ops]", Framework: "x"}, wantErr: "spaces or brackets"},
		{name: "space id", def: ConstraintDefinition{ID: "two words", Framework: "x"}, wantErr: "spaces or brackets"},
		{name: "no text", def: ConstraintDefinition{ID: "ops"}, wantErr: "framework or constraint"},
		{name: "both", def: ConstraintDefinition{ID: "ops", Framework: "a", Constraint: "b"}, wantErr: "mutually exclusive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestConstraintDefinitionRecordComposesFramework(t *testing.T) {
	def := ConstraintDefinition{
		ID:         " data_gravity ",
		Constraint: "Analyze ONLY where data lives.",
		Persona:    "You are a storage engineer.",
		Questions:  []string{"Where is state?", " ", "Who owns it?"},
		Keywords:   []string{" Storage ", "DATABASE", ""},
		Mandatory:  true,
	}
	rec := def.Record()
	if rec.ID != constraint.ID("data_gravity") {
		t.Fatalf("unexpected id %q", rec.ID)
	}
	want := "CONSTRAINT: Analyze ONLY where data lives.\n\nPERSONA: You are a storage engineer.\n\nKEY QUESTIONS: Where is state? Who owns it?"
	if rec.Framework != want {
		t.Fatalf("framework mismatch:\n got %q\nwant %q", rec.Framework, want)
	}
	if !rec.Mandatory {
		t.Fatalf("mandatory flag lost")
	}
	if strings.Join(rec.Keywords, ",") != "storage,database" {
		t.Fatalf("unexpected keywords %v", rec.Keywords)
	}
}

func TestConstraintDefinitionRecordKeepsVerbatimFramework(t *testing.T) {
	def := ConstraintDefinition{ID: "raw", Framework: "  CONSTRAINT: raw text  "}
	if got := def.Record().Framework; got != "CONSTRAINT: raw text" {
		t.Fatalf("unexpected framework %q", got)
	}
}
