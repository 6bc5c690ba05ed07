package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/normalize"
)

// Source adapter types.
const (
	TypeTicketing = "ticketing"
	TypeMovies    = "movies"
	TypePlaces    = "places"
)

const (
	DefaultMaxPages       = 5
	DefaultMaxRetries     = 2
	DefaultRequestTimeout = 15 * time.Second
)

// Duration decodes TOML strings such as "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Selectors are the CSS selectors a ticketing adapter reads a listing page
// with. Empty fields keep the adapter defaults.
type Selectors struct {
	Item     string `toml:"item"`
	ID       string `toml:"id_attr"`
	Title    string `toml:"title"`
	Date     string `toml:"date"`
	Price    string `toml:"price"`
	Category string `toml:"category"`
	Venue    string `toml:"venue"`
	Link     string `toml:"link"`
	Image    string `toml:"image"`
}

// SourceConfig is one [[sources]] entry.
type SourceConfig struct {
	Name           string    `toml:"name"`
	Type           string    `toml:"type"`
	Disabled       bool      `toml:"disabled"`
	Region         string    `toml:"region"`
	MaxPages       int       `toml:"max_pages"`
	CategoryFilter string    `toml:"category_filter"`
	BaseURL        string    `toml:"base_url"`
	APIKeyEnv      string    `toml:"api_key_env"`
	RequestTimeout Duration  `toml:"request_timeout"`
	MaxRetries     *int      `toml:"max_retries"`
	Query          string    `toml:"query"`
	Language       string    `toml:"language"`
	Trailers       bool      `toml:"trailers"`
	Selectors      Selectors `toml:"selectors"`
}

// APIKey resolves the key named by api_key_env.
func (c SourceConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Retries returns the configured retry count, defaulting to DefaultMaxRetries.
func (c SourceConfig) Retries() int {
	if c.MaxRetries == nil || *c.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// SourceDefaults apply to every source that leaves a field unset.
type SourceDefaults struct {
	Region         string   `toml:"region"`
	MaxPages       int      `toml:"max_pages"`
	RequestTimeout Duration `toml:"request_timeout"`
	MaxRetries     *int     `toml:"max_retries"`
}

// SourcesFile is the TOML document naming the adapters of a run.
type SourcesFile struct {
	Defaults   SourceDefaults    `toml:"defaults"`
	Categories map[string]string `toml:"categories"`
	Sources    []SourceConfig    `toml:"sources"`
}

// LoadSources reads the sources file at path. A missing file yields an empty
// configuration.
func LoadSources(path string) (*SourcesFile, error) {
	var f SourcesFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if os.IsNotExist(err) {
			return &SourcesFile{}, nil
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// DecodeSources parses a sources document held in memory.
func DecodeSources(data string) (*SourcesFile, error) {
	var f SourcesFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks names, types and category overrides.
func (f *SourcesFile) Validate() error {
	seen := make(map[string]bool, len(f.Sources))
	for i, s := range f.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if normalize.ReservedSourceName(s.Name) {
			return fmt.Errorf("sources[%d]: name %q collides with derived key prefixes", i, s.Name)
		}
		switch s.Type {
		case TypeTicketing, TypeMovies, TypePlaces:
		default:
			return fmt.Errorf("sources[%d] %s: unknown type %q", i, s.Name, s.Type)
		}
		if s.MaxPages < 0 {
			return fmt.Errorf("sources[%d] %s: max_pages must not be negative", i, s.Name)
		}
	}
	for raw, cat := range f.Categories {
		if !model.Category(cat).IsValid() {
			return fmt.Errorf("categories: %q maps to unknown category %q", raw, cat)
		}
	}
	return nil
}

// Enabled returns the enabled sources in file order with defaults applied.
// File order is the registration order used for dedup tie-breaks.
func (f *SourcesFile) Enabled() []SourceConfig {
	var out []SourceConfig
	for _, s := range f.Sources {
		if s.Disabled {
			continue
		}
		if s.Region == "" {
			s.Region = f.Defaults.Region
		}
		if s.MaxPages == 0 {
			s.MaxPages = f.Defaults.MaxPages
		}
		if s.MaxPages == 0 {
			s.MaxPages = DefaultMaxPages
		}
		if s.RequestTimeout.Duration == 0 {
			s.RequestTimeout = f.Defaults.RequestTimeout
		}
		if s.RequestTimeout.Duration == 0 {
			s.RequestTimeout.Duration = DefaultRequestTimeout
		}
		if s.MaxRetries == nil {
			s.MaxRetries = f.Defaults.MaxRetries
		}
		out = append(out, s)
	}
	return out
}

// CategoryOverrides returns the [categories] table as taxonomy values.
func (f *SourcesFile) CategoryOverrides() map[string]model.Category {
	out := make(map[string]model.Category, len(f.Categories))
	for raw, cat := range f.Categories {
		out[raw] = model.Category(cat)
	}
	return out
}

// Names lists the enabled source names, sorted.
func (f *SourcesFile) Names() []string {
	var names []string
	for _, s := range f.Enabled() {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}
