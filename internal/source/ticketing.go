package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gocolly/colly/v2"

	"github.com/alfredjeanlab/listings/internal/config"
	"github.com/alfredjeanlab/listings/internal/model"
)

// DefaultSelectors read the listing markup most ticketing sites share.
var DefaultSelectors = config.Selectors{
	Item:     "[data-listing]",
	ID:       "data-id",
	Title:    ".title",
	Date:     ".date",
	Price:    ".price",
	Category: ".category",
	Venue:    ".venue",
	Link:     "a",
	Image:    "img",
}

// Ticketing scrapes paginated HTML listing pages.
type Ticketing struct {
	cfg       config.SourceConfig
	deps      Deps
	selectors config.Selectors
	base      *url.URL
	client    *http.Client
}

// NewTicketing validates the base URL and merges selector overrides.
func NewTicketing(c config.SourceConfig, deps Deps) (*Ticketing, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for ticketing sources")
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	c = withSourceDefaults(c)
	deps = deps.withDefaults()
	return &Ticketing{
		cfg:       c,
		deps:      deps,
		selectors: mergeSelectors(DefaultSelectors, c.Selectors),
		base:      base,
		client:    deps.client(c.RequestTimeout.Duration),
	}, nil
}

func mergeSelectors(def, over config.Selectors) config.Selectors {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return config.Selectors{
		Item:     pick(def.Item, over.Item),
		ID:       pick(def.ID, over.ID),
		Title:    pick(def.Title, over.Title),
		Date:     pick(def.Date, over.Date),
		Price:    pick(def.Price, over.Price),
		Category: pick(def.Category, over.Category),
		Venue:    pick(def.Venue, over.Venue),
		Link:     pick(def.Link, over.Link),
		Image:    pick(def.Image, over.Image),
	}
}

func (t *Ticketing) Name() string { return t.cfg.Name }

// pageResult is one scraped listing page. found counts matched items before
// the category filter, so a filtered-out page does not end paging.
type pageResult struct {
	records []model.RawRecord
	found   int
}

// Fetch walks ?page=1..max_pages and stops at the first page without items.
func (t *Ticketing) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	var all []model.RawRecord
	for page := 1; page <= t.cfg.MaxPages; page++ {
		pageURL := t.pageURL(page)
		res, err := retry(ctx, t.cfg.Retries(), t.deps.RetryBackoff, func() (pageResult, error) {
			return t.scrape(ctx, pageURL)
		})
		if err != nil {
			return fetchError(t.cfg.Name, fmt.Errorf("page %d: %w", page, err))
		}
		if res.found == 0 {
			break
		}
		all = append(all, res.records...)
	}
	if err := ctx.Err(); err != nil {
		return fetchError(t.cfg.Name, err)
	}
	t.deps.Logger.Debug("ticketing fetch complete", "records", len(all))
	return all, nil
}

func (t *Ticketing) pageURL(page int) string {
	u := *t.base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// scrape loads one page with a fresh collector bound to ctx.
func (t *Ticketing) scrape(ctx context.Context, pageURL string) (pageResult, error) {
	var (
		res    pageResult
		status int
	)
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(t.client.Timeout)
	c.WithTransport(&contextTransport{ctx: ctx, base: transportOf(t.client)})

	sel := t.selectors
	fetchedAt := t.deps.Now()
	c.OnHTML(sel.Item, func(e *colly.HTMLElement) {
		res.found++
		rec := model.RawRecord{
			SourceName:  t.cfg.Name,
			SourceID:    strings.TrimSpace(e.Attr(sel.ID)),
			Kind:        model.KindEvent,
			Title:       strings.TrimSpace(e.ChildText(sel.Title)),
			RawDate:     childDate(e, sel.Date),
			RawPrice:    strings.TrimSpace(e.ChildText(sel.Price)),
			RawCategory: strings.TrimSpace(e.ChildText(sel.Category)),
			VenueText:   strings.TrimSpace(e.ChildText(sel.Venue)),
			RawURL:      absolute(e, childOrSelfAttr(e, sel.Link, "href")),
			ImageURL:    absolute(e, e.ChildAttr(sel.Image, "src")),
			FetchedAt:   fetchedAt,
		}
		if !matchesCategory(t.cfg.CategoryFilter, rec.RawCategory) {
			return
		}
		res.records = append(res.records, rec)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(pageURL); err != nil {
		if status >= 300 {
			return pageResult{}, &StatusError{Code: status, URL: pageURL}
		}
		return pageResult{}, err
	}
	return res, nil
}

// childDate prefers a machine-readable datetime attribute over display text.
func childDate(e *colly.HTMLElement, selector string) string {
	if v := strings.TrimSpace(e.ChildAttr(selector, "datetime")); v != "" {
		return v
	}
	return strings.TrimSpace(e.ChildText(selector))
}

// childOrSelfAttr reads attr from the first matching child, falling back to
// the item itself so that cards rendered as <a> still yield a link.
func childOrSelfAttr(e *colly.HTMLElement, selector, attr string) string {
	if v := strings.TrimSpace(e.ChildAttr(selector, attr)); v != "" {
		return v
	}
	return strings.TrimSpace(e.Attr(attr))
}

func absolute(e *colly.HTMLElement, ref string) string {
	if ref == "" {
		return ""
	}
	return e.Request.AbsoluteURL(ref)
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}

// contextTransport ties every collector request to the fetch context, so a
// run deadline aborts a scrape in flight.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
