package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File is the optional configuration overlay. It is decoded as YAML or TOML
// by extension.
type File struct {
	// Env supplies environment variables that are not set in the process.
	Env map[string]string `yaml:"env" toml:"env"`

	Boards      []string       `yaml:"boards" toml:"boards"`
	Searches    []Search       `yaml:"searches" toml:"searches"`
	Concurrency map[string]int `yaml:"concurrency" toml:"concurrency"`

	// Profile is the single local candidate used with the sqlite store.
	Profile *Profile `yaml:"profile" toml:"profile"`
}

// Search is one recurring default scrape.
type Search struct {
	Query    string `yaml:"query" toml:"query"`
	Location string `yaml:"location" toml:"location"`
}

type Skill struct {
	Name        string  `yaml:"name" toml:"name"`
	Proficiency int     `yaml:"proficiency" toml:"proficiency"`
	Years       float64 `yaml:"years" toml:"years"`
}

// Profile mirrors the candidate fields the matcher reads.
type Profile struct {
	UserID             string   `yaml:"user_id" toml:"user_id"`
	Email              string   `yaml:"email" toml:"email"`
	Skills             []Skill  `yaml:"skills" toml:"skills"`
	TotalYears         float64  `yaml:"total_years" toml:"total_years"`
	PreferredLocations []string `yaml:"preferred_locations" toml:"preferred_locations"`
	MinimumSalary      float64  `yaml:"minimum_salary" toml:"minimum_salary"`
	MaximumSalary      float64  `yaml:"maximum_salary" toml:"maximum_salary"`
	RemotePreferred    bool     `yaml:"remote_preferred" toml:"remote_preferred"`
	ExcludedCompanies  []string `yaml:"excluded_companies" toml:"excluded_companies"`
	ExcludedKeywords   []string `yaml:"excluded_keywords" toml:"excluded_keywords"`
}

// LoadFile decodes the overlay at path.
func LoadFile(path string) (*File, error) {
	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config file %s: unsupported extension %q", path, ext)
	}

	if f.Profile != nil && f.Profile.UserID == "" {
		return nil, fmt.Errorf("config file %s: profile.user_id is required", path)
	}
	for i, s := range f.Searches {
		if strings.TrimSpace(s.Query) == "" {
			return nil, fmt.Errorf("config file %s: searches[%d].query is empty", path, i)
		}
	}
	return &f, nil
}
