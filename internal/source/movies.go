package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/listings/internal/config"
	"github.com/alfredjeanlab/listings/internal/model"
)

const (
	defaultMoviesBaseURL = "https://api.themoviedb.org"
	movieWebURL          = "https://www.themoviedb.org/movie/"
	posterBaseURL        = "https://image.tmdb.org/t/p/w500"
	youtubeWatchURL      = "https://www.youtube.com/watch?v="

	// trailerLookups bounds concurrent video lookups per fetch.
	trailerLookups = 4
)

// Movies reads the now-playing catalog of a TMDB-style API.
type Movies struct {
	cfg    config.SourceConfig
	deps   Deps
	base   string
	apiKey string
	client *http.Client
}

func NewMovies(c config.SourceConfig, deps Deps) (*Movies, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = defaultMoviesBaseURL
	}
	key := c.APIKey()
	if key == "" {
		return nil, fmt.Errorf("movies source needs an API key (set api_key_env)")
	}
	c = withSourceDefaults(c)
	deps = deps.withDefaults()
	return &Movies{
		cfg:    c,
		deps:   deps,
		base:   base,
		apiKey: key,
		client: deps.client(c.RequestTimeout.Duration),
	}, nil
}

func (m *Movies) Name() string { return m.cfg.Name }

type tmdbPage struct {
	Page       int         `json:"page"`
	TotalPages int         `json:"total_pages"`
	Results    []tmdbMovie `json:"results"`
}

type tmdbMovie struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	ReleaseDate      string  `json:"release_date"`
	PosterPath       string  `json:"poster_path"`
	Overview         string  `json:"overview"`
	OriginalLanguage string  `json:"original_language"`
	VoteAverage      float64 `json:"vote_average"`
}

type tmdbVideos struct {
	Results []struct {
		Key      string `json:"key"`
		Site     string `json:"site"`
		Type     string `json:"type"`
		Official bool   `json:"official"`
	} `json:"results"`
}

// Fetch pages through now_playing, then looks up trailers when enabled.
func (m *Movies) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	var all []model.RawRecord
	fetchedAt := m.deps.Now()
	for page := 1; page <= m.cfg.MaxPages; page++ {
		var p tmdbPage
		if err := getJSON(ctx, m.client, m.cfg.Retries(), m.deps.RetryBackoff, m.nowPlayingURL(page), m.header(), &p); err != nil {
			return fetchError(m.cfg.Name, fmt.Errorf("now_playing page %d: %w", page, err))
		}
		for _, mv := range p.Results {
			all = append(all, m.record(mv, fetchedAt))
		}
		if len(p.Results) == 0 || page >= p.TotalPages {
			break
		}
	}

	if m.cfg.Trailers {
		m.addTrailers(ctx, all)
	}
	if err := ctx.Err(); err != nil {
		return fetchError(m.cfg.Name, err)
	}
	m.deps.Logger.Debug("movie catalog fetch complete", "records", len(all))
	return all, nil
}

func (m *Movies) nowPlayingURL(page int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if m.cfg.Region != "" {
		q.Set("region", m.cfg.Region)
	}
	if m.cfg.Language != "" {
		q.Set("language", m.cfg.Language)
	}
	return m.base + "/3/movie/now_playing?" + q.Encode()
}

func (m *Movies) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+m.apiKey)
	return h
}

func (m *Movies) record(mv tmdbMovie, fetchedAt time.Time) model.RawRecord {
	id := strconv.FormatInt(mv.ID, 10)
	rec := model.RawRecord{
		SourceName:  m.cfg.Name,
		SourceID:    id,
		Kind:        model.KindMovie,
		Title:       mv.Title,
		RawDate:     mv.ReleaseDate,
		RawCategory: "movie",
		RawURL:      movieWebURL + id,
		FetchedAt:   fetchedAt,
		Details:     map[string]string{},
	}
	if mv.PosterPath != "" {
		rec.ImageURL = posterBaseURL + mv.PosterPath
	}
	if mv.Overview != "" {
		rec.Details["overview"] = mv.Overview
	}
	if mv.OriginalLanguage != "" {
		rec.Details["language"] = mv.OriginalLanguage
	}
	if mv.VoteAverage > 0 {
		rec.Details["rating"] = strconv.FormatFloat(mv.VoteAverage, 'f', 1, 64)
	}
	return rec
}

// addTrailers is best-effort: a failed lookup leaves the record without a
// trailer and never fails the fetch.
func (m *Movies) addTrailers(ctx context.Context, recs []model.RawRecord) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(trailerLookups)
	for i := range recs {
		i := i
		g.Go(func() error {
			trailer, err := m.trailer(gctx, recs[i].SourceID)
			if err != nil {
				m.deps.Logger.Debug("trailer lookup failed", "movie_id", recs[i].SourceID, "error", err)
				return nil
			}
			if trailer == "" {
				return nil
			}
			// Each record owns its Details map.
			recs[i].Details["trailer_url"] = trailer
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Movies) trailer(ctx context.Context, id string) (string, error) {
	var v tmdbVideos
	u := m.base + "/3/movie/" + url.PathEscape(id) + "/videos"
	// Trailers get one attempt.
	if err := getJSON(ctx, m.client, 0, m.deps.RetryBackoff, u, m.header(), &v); err != nil {
		return "", err
	}
	best := ""
	for _, r := range v.Results {
		if r.Site != "YouTube" || r.Type != "Trailer" || r.Key == "" {
			continue
		}
		if r.Official {
			return youtubeWatchURL + r.Key, nil
		}
		if best == "" {
			best = youtubeWatchURL + r.Key
		}
	}
	return best, nil
}
