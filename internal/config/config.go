// Package config loads the case-search configuration: backend connection
// settings, the related-case cap, and per-domain search behavior.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	_ "time/tzdata"
)

// Config is the top-level case-search configuration.
type Config struct {
	Elasticsearch ElasticsearchConfig     `yaml:"elasticsearch"`
	Database      DatabaseConfig          `yaml:"database"`
	Logging       LoggingConfig           `yaml:"logging"`
	Search        SearchConfig            `yaml:"search"`
	Domains       map[string]DomainConfig `yaml:"domains"`
}

// ElasticsearchConfig holds search cluster settings.
type ElasticsearchConfig struct {
	URLs  []string `yaml:"urls"`
	Index string   `yaml:"index"`
}

// DatabaseConfig holds Postgres settings for the SQL case index.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SearchConfig holds compiler-wide limits.
type SearchConfig struct {
	MaxRelatedCases int `yaml:"max_related_cases"`
}

// DomainConfig holds per-domain search behavior.
type DomainConfig struct {
	Enabled         bool                `yaml:"enabled"`
	DefaultTimezone string              `yaml:"default_timezone"`
	FuzzyProperties map[string][]string `yaml:"fuzzy_properties"` // case type -> properties
	IgnorePatterns  []IgnorePattern     `yaml:"ignore_patterns"`
}

// IgnorePattern strips matching substrings from incoming criteria values.
type IgnorePattern struct {
	CaseType     string `yaml:"case_type"`
	CaseProperty string `yaml:"case_property"`
	Regex        string `yaml:"regex"`
}

// Timezone resolves the domain's default timezone, falling back to UTC on
// an empty or unknown name.
func (d DomainConfig) Timezone() *time.Location {
	if d.DefaultTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsFuzzy reports whether the property defaults to fuzzy matching for any
// of the given case types.
func (d DomainConfig) IsFuzzy(caseTypes []string, property string) bool {
	for _, ct := range caseTypes {
		for _, p := range d.FuzzyProperties[ct] {
			if p == property {
				return true
			}
		}
	}
	return false
}

var envVarRe = regexp.MustCompile(`\$\{(\w+)\}`)

// Load reads configuration from a YAML file. ${VAR} references are
// substituted from the environment before parsing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	data = envVarRe.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarRe.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Elasticsearch.URLs) == 0 {
		c.Elasticsearch.URLs = []string{"http://localhost:9200"}
	}
	if c.Elasticsearch.Index == "" {
		c.Elasticsearch.Index = "case_search"
	}
	if c.Database.URL == "" {
		c.Database.URL = os.Getenv("DATABASE_URL")
	}
	if c.Search.MaxRelatedCases == 0 {
		c.Search.MaxRelatedCases = 250_000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Search.MaxRelatedCases < 0 {
		return fmt.Errorf("search.max_related_cases must be positive")
	}
	for name, d := range c.Domains {
		if d.DefaultTimezone != "" {
			if _, err := time.LoadLocation(d.DefaultTimezone); err != nil {
				return fmt.Errorf("domain %s: unknown timezone %q", name, d.DefaultTimezone)
			}
		}
		for _, p := range d.IgnorePatterns {
			if _, err := regexp.Compile(p.Regex); err != nil {
				return fmt.Errorf("domain %s: bad ignore pattern %q: %w", name, p.Regex, err)
			}
		}
	}
	return nil
}
