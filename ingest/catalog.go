package ingest

import (
	_ "embed"
	"os"

	"gopkg.in/yaml.v3"

	"shortsgen/candidate"
	"shortsgen/errors"
	"shortsgen/scrape"
)

//go:embed sources.yaml
var defaultCatalog []byte

// Catalog is the list of sources the runner walks.
type Catalog struct {
	Sources []scrape.Source `yaml:"sources"`
}

// LoadCatalog reads path, or the embedded default catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read source catalog %s", path)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parse source catalog")
	}
	seen := map[string]bool{}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Name == "" || s.URL == "" {
			return nil, errors.Newf("source #%d: name and url are required", i+1)
		}
		if seen[s.Name] {
			return nil, errors.Newf("source %s: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if s.Source == "" {
			s.Source = s.Name
		}
		if s.Scraper == "" {
			s.Scraper = "html"
		}
		if !s.Kind.Valid() {
			return nil, errors.Newf("source %s: invalid kind %q", s.Name, s.Kind)
		}
		if s.Language == "" {
			return nil, errors.Newf("source %s: language is required", s.Name)
		}
	}
	return &c, nil
}

// RunFilter narrows a run. Empty fields match everything; Sources matches
// either the entry name or its source label.
type RunFilter struct {
	Kind     candidate.Kind `json:"kind,omitempty"`
	Language string         `json:"language,omitempty"`
	Sources  []string       `json:"sources,omitempty"`
}

// Select returns the enabled sources matching f, in catalog order.
func (c *Catalog) Select(f RunFilter) []scrape.Source {
	var out []scrape.Source
	for _, s := range c.Sources {
		if s.Disabled {
			continue
		}
		if f.Kind != "" && s.Kind != f.Kind {
			continue
		}
		if f.Language != "" && s.Language != f.Language {
			continue
		}
		if len(f.Sources) > 0 && !contains(f.Sources, s.Name) && !contains(f.Sources, s.Source) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
