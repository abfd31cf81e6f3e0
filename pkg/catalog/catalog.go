// Package catalog is the thin content-registry collaborator. The engine
// only ever asks it for {title, description, tags} lookups; rendering and
// packaging of the content itself live outside this server.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one registry item.
type Entry struct {
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description"`
	Tags        []string `yaml:"tags" json:"tags"`
	URL         string   `yaml:"url" json:"url,omitempty"`
}

// Registry holds the loaded entries.
type Registry struct {
	entries []Entry
}

// Load reads a YAML registry file. A missing path yields an empty
// registry rather than an error so the server can run without content.
func Load(path string) (*Registry, error) {
	if path == "" {
		return &Registry{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	var doc struct {
		Entries []Entry `yaml:"entries"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return &Registry{entries: doc.Entries}, nil
}

// Search returns entries whose title, description or tags match the query,
// case-insensitively. Empty query returns nothing.
func (r *Registry) Search(query string) []Entry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []Entry
	for _, e := range r.entries {
		if strings.Contains(strings.ToLower(e.Title), q) ||
			strings.Contains(strings.ToLower(e.Description), q) {
			out = append(out, e)
			continue
		}
		for _, t := range e.Tags {
			if strings.Contains(strings.ToLower(t), q) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Len returns the number of loaded entries.
func (r *Registry) Len() int { return len(r.entries) }
