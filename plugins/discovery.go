package plugins

import (
	"fmt"

	"github.com/kingrea/council/internal/constraint"
)

// LoadCatalog discovers YAML and Go constraint definitions in dir and returns
// base extended with them. Definitions may not reuse an id, neither among
// themselves nor from base.
func LoadCatalog(base *constraint.Catalog, dir string) (*constraint.Catalog, []DefinitionFile, error) {
	if base == nil {
		base = constraint.Builtin()
	}
	defs, err := loadAllDefinitionFiles(dir)
	if err != nil {
		return nil, nil, err
	}
	if len(defs) == 0 {
		return base, nil, nil
	}
	seen := make(map[string]string, len(defs))
	records := make([]constraint.Record, 0, len(defs))
	for _, file := range defs {
		def := file.Definition
		if existing, ok := seen[def.ID]; ok {
			return nil, nil, fmt.Errorf("plugin: duplicate constraint id %s (%s and %s)", def.ID, existing, file.Path)
		}
		if _, builtin := base.Lookup(constraint.ID(def.ID)); builtin {
			return nil, nil, fmt.Errorf("plugin: %s redefines constraint %s", file.Path, def.ID)
		}
		seen[def.ID] = file.Path
		records = append(records, def.Record())
	}
	catalog, err := base.With(records...)
	if err != nil {
		return nil, nil, fmt.Errorf("plugin: extend catalog: %w", err)
	}
	return catalog, defs, nil
}

func loadAllDefinitionFiles(dir string) ([]DefinitionFile, error) {
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlDefs, goDefs...), nil
}
