// Package prompt holds the instruction texts sent to the completion service.
package prompt

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// Catalog is the set of prompt texts.
type Catalog struct {
	Persona    string `yaml:"persona"`
	Engagement string `yaml:"engagement"`
	WrapUp     string `yaml:"wrap_up"`
	Conclude   string `yaml:"conclude"`

	ProfileNarrative string `yaml:"profile_narrative"`
	ProfileJSON      string `yaml:"profile_json"`
	SessionSummary   string `yaml:"session_summary"`
	SessionAnalysis  string `yaml:"session_analysis"`
	SessionScores    string `yaml:"session_scores"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c := &Catalog{}
	if err := yaml.Unmarshal(defaultCatalog, c); err != nil {
		panic(fmt.Sprintf("prompt: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load returns the embedded catalog with keys from the file at path layered on top.
// An empty path returns the default.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse prompts file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that no prompt is empty.
func (c *Catalog) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"persona", c.Persona},
		{"engagement", c.Engagement},
		{"wrap_up", c.WrapUp},
		{"conclude", c.Conclude},
		{"profile_narrative", c.ProfileNarrative},
		{"profile_json", c.ProfileJSON},
		{"session_summary", c.SessionSummary},
		{"session_analysis", c.SessionAnalysis},
		{"session_scores", c.SessionScores},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("prompt %q is empty", f.name)
		}
	}
	return nil
}
