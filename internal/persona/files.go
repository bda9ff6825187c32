package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"fablecast/server/internal/models"
)

// personaFile is the YAML shape of a persona definition file.
type personaFile struct {
	Personas []*models.Persona `yaml:"personas"`
}

// LoadFile reads persona definitions from a YAML file and upserts them
// into the manager, defaults applied. Returns how many loaded.
func (m *Manager) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read persona file: %w", err)
	}

	var file personaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse persona file %s: %w", path, err)
	}

	loaded := 0
	for _, p := range file.Personas {
		if p == nil || p.ID == "" {
			return loaded, fmt.Errorf("persona file %s: entry %d has no id", path, loaded)
		}
		if err := m.AddPersona(p); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}
