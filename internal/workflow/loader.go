package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a single YAML workflow file. A missing id
// is filled with a fresh UUID.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file %s: %w", path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow file %s: %w", path, err)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := Validate(&def); err != nil {
		return nil, fmt.Errorf("workflow file %s: %w", path, err)
	}
	return &def, nil
}

// LoadDir reads every .yaml/.yml file below dir. Duplicate ids are rejected.
func LoadDir(dir string) ([]*Definition, error) {
	var defs []*Definition
	ids := make(map[string]string)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		def, err := LoadFile(path)
		if err != nil {
			return err
		}
		if prev, exists := ids[def.ID]; exists {
			return fmt.Errorf("duplicate workflow id %q in %s and %s", def.ID, prev, path)
		}
		ids[def.ID] = path
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading workflows from %s: %w", dir, err)
	}
	return defs, nil
}

// WriteFile stores def as YAML at path.
func WriteFile(path string, def *Definition) error {
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("encoding workflow %s: %w", def.Name, err)
	}
	return os.WriteFile(path, data, 0644)
}
