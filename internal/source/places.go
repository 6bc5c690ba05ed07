package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	places "google.golang.org/api/places/v1"

	"github.com/alfredjeanlab/listings/internal/config"
	"github.com/alfredjeanlab/listings/internal/model"
)

// placesFieldMask selects the response fields the API bills for.
const placesFieldMask = "places.id,places.displayName,places.formattedAddress,places.googleMapsUri," +
	"places.websiteUri,places.primaryType,places.rating,places.priceLevel,nextPageToken"

const placesPageSize = 20

// Places runs a Places API text search and pages through its results.
type Places struct {
	cfg    config.SourceConfig
	deps   Deps
	apiKey string
	svc    *places.Service
}

func NewPlaces(c config.SourceConfig, deps Deps) (*Places, error) {
	if strings.TrimSpace(c.Query) == "" {
		return nil, fmt.Errorf("query is required for places sources")
	}
	key := c.APIKey()
	if key == "" {
		return nil, fmt.Errorf("places source needs an API key (set api_key_env)")
	}
	c = withSourceDefaults(c)
	deps = deps.withDefaults()

	// The key travels in X-Goog-Api-Key so the client can be our own.
	opts := []option.ClientOption{option.WithHTTPClient(deps.client(c.RequestTimeout.Duration))}
	if c.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(c.BaseURL, "/")+"/"))
	}
	svc, err := places.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create places client: %w", err)
	}
	return &Places{cfg: c, deps: deps, apiKey: key, svc: svc}, nil
}

func (p *Places) Name() string { return p.cfg.Name }

// Fetch follows page tokens until the API stops returning one or max_pages
// is reached.
func (p *Places) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	var (
		all   []model.RawRecord
		token string
	)
	fetchedAt := p.deps.Now()
	for page := 1; page <= p.cfg.MaxPages; page++ {
		resp, err := retry(ctx, p.cfg.Retries(), p.deps.RetryBackoff, func() (*places.GoogleMapsPlacesV1SearchTextResponse, error) {
			return p.search(ctx, token)
		})
		if err != nil {
			return fetchError(p.cfg.Name, fmt.Errorf("search page %d: %w", page, err))
		}
		for _, pl := range resp.Places {
			if rec, ok := p.record(pl, fetchedAt); ok {
				all = append(all, rec)
			}
		}
		token = resp.NextPageToken
		if token == "" {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return fetchError(p.cfg.Name, err)
	}
	p.deps.Logger.Debug("places fetch complete", "records", len(all))
	return all, nil
}

func (p *Places) search(ctx context.Context, token string) (*places.GoogleMapsPlacesV1SearchTextResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout.Duration)
	defer cancel()

	req := &places.GoogleMapsPlacesV1SearchTextRequest{
		TextQuery:    p.cfg.Query,
		RegionCode:   p.cfg.Region,
		LanguageCode: p.cfg.Language,
		IncludedType: p.cfg.CategoryFilter,
		PageSize:     placesPageSize,
		PageToken:    token,
	}
	call := p.svc.Places.SearchText(req).Context(ctx)
	call.Header().Set("X-Goog-Api-Key", p.apiKey)
	call.Header().Set("X-Goog-FieldMask", placesFieldMask)

	resp, err := call.Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return nil, &StatusError{Code: gerr.Code, URL: "places:searchText"}
		}
		return nil, err
	}
	return resp, nil
}

func (p *Places) record(pl *places.GoogleMapsPlacesV1Place, fetchedAt time.Time) (model.RawRecord, bool) {
	if pl == nil || pl.DisplayName == nil {
		return model.RawRecord{}, false
	}
	rec := model.RawRecord{
		SourceName:  p.cfg.Name,
		SourceID:    pl.Id,
		Kind:        model.KindVenue,
		Title:       pl.DisplayName.Text,
		RawCategory: pl.PrimaryType,
		RawURL:      pl.GoogleMapsUri,
		VenueText:   pl.FormattedAddress,
		FetchedAt:   fetchedAt,
		Details:     map[string]string{},
	}
	if pl.FormattedAddress != "" {
		rec.Details["address"] = pl.FormattedAddress
	}
	if pl.WebsiteUri != "" {
		rec.Details["website"] = pl.WebsiteUri
	}
	if pl.Rating > 0 {
		rec.Details["rating"] = strconv.FormatFloat(pl.Rating, 'f', 1, 64)
	}
	if level := priceLevel(pl.PriceLevel); level != "" {
		rec.Details["price_level"] = level
	}
	return rec, true
}

// priceLevel turns "PRICE_LEVEL_MODERATE" into "moderate".
func priceLevel(v string) string {
	v = strings.TrimPrefix(v, "PRICE_LEVEL_")
	if v == "" || v == "UNSPECIFIED" {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(v, "_", " "))
}
