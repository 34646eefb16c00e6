package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionFile pairs a parsed constraint definition with its on-disk source.
type DefinitionFile struct {
	Definition ConstraintDefinition
	Path       string
}

// ParseDefinitionYAML decodes and validates a single plugin definition payload.
func ParseDefinitionYAML(data []byte) (ConstraintDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return ConstraintDefinition{}, fmt.Errorf("plugin: definition payload is empty")
	}
	var def ConstraintDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return ConstraintDefinition{}, fmt.Errorf("plugin: decode definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return ConstraintDefinition{}, err
	}
	return def.Normalized(), nil
}

// ParseDefinitionsYAML accepts either one definition or a list of them.
func ParseDefinitionsYAML(data []byte) ([]ConstraintDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("plugin: definition payload is empty")
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("plugin: decode definition: %w", err)
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.SequenceNode {
		def, err := ParseDefinitionYAML(data)
		if err != nil {
			return nil, err
		}
		return []ConstraintDefinition{def}, nil
	}
	var raw []ConstraintDefinition
	if err := node.Content[0].Decode(&raw); err != nil {
		return nil, fmt.Errorf("plugin: decode definitions: %w", err)
	}
	defs := make([]ConstraintDefinition, 0, len(raw))
	for idx, def := range raw {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("definition[%d]: %w", idx, err)
		}
		defs = append(defs, def.Normalized())
	}
	return defs, nil
}

// LoadDefinitionFile reads a YAML file from disk and returns its definitions.
func LoadDefinitionFile(path string) ([]DefinitionFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("plugin: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	defs, err := ParseDefinitionsYAML(data)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	clean := filepath.Clean(path)
	files := make([]DefinitionFile, len(defs))
	for i, def := range defs {
		files[i] = DefinitionFile{Definition: def, Path: clean}
		if len(defs) > 1 {
			files[i].Path = fmt.Sprintf("%s#%d", clean, i+1)
		}
	}
	return files, nil
}

// LoadDefinitionDir scans a directory for *.yaml constraints and returns the parsed definitions.
// Missing directories are treated as "no plugins" to simplify startup.
func LoadDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isYAMLFile(name) {
			continue
		}
		fileDefs, err := LoadDefinitionFile(filepath.Join(trimmed, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}
	if len(defs) == 0 {
		return nil, nil
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
