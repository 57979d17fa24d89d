package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// assignmentsFile holds per-user persona assignments inside the persona
// directory. It is not a persona definition, so LoadDir skips it.
const assignmentsFile = "assignments"

// LoadDir reads every .yaml/.yml file in dir into a catalog. Each file holds
// one persona; a file without an explicit id falls back to its filename. A
// missing directory yields an empty catalog, not an error.
func LoadDir(dir string) (*StaticCatalog, error) {
	catalog := NewStaticCatalog()
	if dir == "" {
		return catalog, nil
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return catalog, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking personas directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("personas path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading personas directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if trimYAMLExt(name) == assignmentsFile {
			continue
		}

		p, err := loadPersonaFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}
		catalog.personas[p.ID] = p
	}

	return catalog, nil
}

func loadPersonaFile(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, err
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if p.ID == "" {
		p.ID = trimYAMLExt(filepath.Base(path))
	}
	p.ID = strings.ToLower(p.ID)

	if strings.TrimSpace(p.SystemPrompt) == "" {
		return Persona{}, fmt.Errorf("persona %s has no system_prompt", p.ID)
	}

	return p, nil
}

func trimYAMLExt(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
}

// LoadAssignments reads dir/assignments.yaml (or .yml) into a prefs table.
// The file maps user IDs to persona IDs:
//
//	users:
//	  alice: tutor
//	  bob: pirate
//
// A missing file yields empty prefs, not an error.
func LoadAssignments(dir string) (*StaticPrefs, error) {
	if dir == "" {
		return NewStaticPrefs(nil), nil
	}

	var data []byte
	for _, ext := range []string{".yaml", ".yml"} {
		b, err := os.ReadFile(filepath.Join(dir, assignmentsFile+ext))
		if err == nil {
			data = b
			break
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading persona assignments: %w", err)
		}
	}
	if data == nil {
		return NewStaticPrefs(nil), nil
	}

	var doc struct {
		Users map[string]string `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing persona assignments: %w", err)
	}
	return NewStaticPrefs(doc.Users), nil
}
