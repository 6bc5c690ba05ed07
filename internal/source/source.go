// Package source fetches raw listings from upstream sites and APIs.
package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alfredjeanlab/listings/internal/config"
	"github.com/alfredjeanlab/listings/internal/logger"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/normalize"
)

// Adapter fetches the current listings of one source. Fetch returns either
// every record or an error with no records.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context) ([]model.RawRecord, error)
}

// Deps are shared by every adapter built from config.
type Deps struct {
	Logger *logger.Logger
	// HTTPClient overrides the per-source client; tests use it.
	HTTPClient *http.Client
	Now        func() time.Time
	// RetryBackoff is the first retry delay; defaults to 500ms.
	RetryBackoff time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.RetryBackoff <= 0 {
		d.RetryBackoff = 500 * time.Millisecond
	}
	return d
}

func (d Deps) client(timeout time.Duration) *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return NewHTTPClient(timeout)
}

// NewFromConfig builds the adapter variant named by c.Type.
func NewFromConfig(c config.SourceConfig, deps Deps) (Adapter, error) {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.With("source", c.Name)
	switch c.Type {
	case config.TypeTicketing:
		return NewTicketing(c, deps)
	case config.TypeMovies:
		return NewMovies(c, deps)
	case config.TypePlaces:
		return NewPlaces(c, deps)
	default:
		return nil, fmt.Errorf("unknown source type %q", c.Type)
	}
}

func withSourceDefaults(c config.SourceConfig) config.SourceConfig {
	if c.RequestTimeout.Duration <= 0 {
		c.RequestTimeout.Duration = config.DefaultRequestTimeout
	}
	if c.MaxPages <= 0 {
		c.MaxPages = config.DefaultMaxPages
	}
	return c
}

// NewAll builds one adapter per enabled source, in order.
func NewAll(cfgs []config.SourceConfig, deps Deps) ([]Adapter, error) {
	out := make([]Adapter, 0, len(cfgs))
	for _, c := range cfgs {
		a, err := NewFromConfig(c, deps)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", c.Name, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// fetchError wraps err for source and guarantees no partial result leaks.
func fetchError(source string, err error) ([]model.RawRecord, error) {
	return nil, &model.FetchError{Source: source, Err: err}
}

// matchesCategory applies a category_filter to a source category.
func matchesCategory(filter, raw string) bool {
	if filter == "" {
		return true
	}
	f := normalize.Fold(filter)
	for tok := range normalize.Tokens(raw) {
		if tok == f {
			return true
		}
	}
	return normalize.Fold(raw) == f
}
