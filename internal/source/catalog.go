// Package source loads and validates the immutable news source catalog.
package source

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/arbor-commodities/sugarwire/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// catalogFile is the on-disk YAML shape.
type catalogFile struct {
	CategoryWeights map[model.SourceCategory]float64 `yaml:"category_weights"`
	Sources         []model.Source                   `yaml:"sources"`
}

// Load parses and validates a catalog from YAML bytes. Each source's Weight
// is resolved from its category's weight. Sources are returned sorted by ID
// so downstream allocation is deterministic.
func Load(data []byte) ([]model.Source, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "source: unmarshal catalog")
	}
	if len(file.Sources) == 0 {
		return nil, eris.New("source: catalog has no sources")
	}

	known := make(map[model.SourceCategory]bool, len(model.KnownSourceCategories))
	for _, c := range model.KnownSourceCategories {
		known[c] = true
	}
	for cat, w := range file.CategoryWeights {
		if !known[cat] {
			return nil, eris.Errorf("source: unknown category %q in category_weights", cat)
		}
		if w < 0 || w > 1 {
			return nil, eris.Errorf("source: category %q weight %v outside [0,1]", cat, w)
		}
	}

	seen := make(map[string]bool, len(file.Sources))
	for i := range file.Sources {
		s := &file.Sources[i]
		if s.ID == "" || s.Name == "" {
			return nil, eris.Errorf("source: entry %d missing id or name", i)
		}
		if seen[s.ID] {
			return nil, eris.Errorf("source: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
		if !known[s.Category] {
			return nil, eris.Errorf("source: %s has unknown category %q", s.ID, s.Category)
		}
		if s.Reliability < 0 || s.Reliability > 1 {
			return nil, eris.Errorf("source: %s reliability %v outside [0,1]", s.ID, s.Reliability)
		}
		w, ok := file.CategoryWeights[s.Category]
		if !ok {
			return nil, eris.Errorf("source: no weight configured for category %q", s.Category)
		}
		s.Weight = w
	}

	sort.Slice(file.Sources, func(i, j int) bool {
		return file.Sources[i].ID < file.Sources[j].ID
	})
	return file.Sources, nil
}

// LoadDefault returns the embedded catalog.
func LoadDefault() ([]model.Source, error) {
	return Load(defaultCatalog)
}

// LoadFile reads a catalog from the given path, falling back to the embedded
// catalog when path is empty.
func LoadFile(path string) ([]model.Source, error) {
	if path == "" {
		return LoadDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("source: read catalog %s", path))
	}
	return Load(data)
}

// ByID indexes a catalog by source ID.
func ByID(sources []model.Source) map[string]model.Source {
	m := make(map[string]model.Source, len(sources))
	for _, s := range sources {
		m[s.ID] = s
	}
	return m
}
