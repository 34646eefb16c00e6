package plugins

import (
	"fmt"
	"strings"

	"github.com/kingrea/council/internal/constraint"
)

// ConstraintDefinition describes a project-specific constraint loaded from
// .council/constraints. Either Framework is given verbatim or it is composed
// from Constraint, Persona and Questions in the same layout as the built-in
// catalog.
type ConstraintDefinition struct {
	ID         string   `json:"id" yaml:"id"`
	Framework  string   `json:"framework,omitempty" yaml:"framework,omitempty"`
	Constraint string   `json:"constraint,omitempty" yaml:"constraint,omitempty"`
	Persona    string   `json:"persona,omitempty" yaml:"persona,omitempty"`
	Questions  []string `json:"questions,omitempty" yaml:"questions,omitempty"`
	Keywords   []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Mandatory  bool     `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
}

// Normalized returns a trimmed, copy-on-write variant of the definition.
func (def ConstraintDefinition) Normalized() ConstraintDefinition {
	clone := ConstraintDefinition{
		ID:         strings.TrimSpace(def.ID),
		Framework:  strings.TrimSpace(def.Framework),
		Constraint: strings.TrimSpace(def.Constraint),
		Persona:    strings.TrimSpace(def.Persona),
		Mandatory:  def.Mandatory,
	}
	for _, q := range def.Questions {
		if q = strings.TrimSpace(q); q != "" {
			clone.Questions = append(clone.Questions, q)
		}
	}
	for _, k := range def.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			clone.Keywords = append(clone.Keywords, k)
		}
	}
	return clone
}

// Validate ensures the definition can become a catalog record.
func (def ConstraintDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("plugin: id is required")
	}
	if strings.ContainsAny(normalized.ID, " \t\n[]") {
		return fmt.Errorf("plugin %s: id must not contain spaces or brackets", normalized.ID)
	}
	if normalized.Framework == "" && normalized.Constraint == "" {
		return fmt.Errorf("plugin %s: framework or constraint is required", normalized.ID)
	}
	if normalized.Framework != "" && normalized.Constraint != "" {
		return fmt.Errorf("plugin %s: framework and constraint are mutually exclusive", normalized.ID)
	}
	return nil
}

// Record converts the definition into a catalog record.
func (def ConstraintDefinition) Record() constraint.Record {
	normalized := def.Normalized()
	return constraint.Record{
		ID:        constraint.ID(normalized.ID),
		Framework: normalized.framework(),
		Mandatory: normalized.Mandatory,
		Keywords:  normalized.Keywords,
	}
}

func (def ConstraintDefinition) framework() string {
	if def.Framework != "" {
		return def.Framework
	}
	parts := []string{"CONSTRAINT: " + strings.TrimPrefix(def.Constraint, "CONSTRAINT: ")}
	if def.Persona != "" {
		parts = append(parts, "PERSONA: "+strings.TrimPrefix(def.Persona, "PERSONA: "))
	}
	if len(def.Questions) > 0 {
		parts = append(parts, "KEY QUESTIONS: "+strings.Join(def.Questions, " "))
	}
	return strings.Join(parts, "\n\n")
}
