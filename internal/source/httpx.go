package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// userAgent identifies the pipeline to upstream sites.
const userAgent = "listings-ingest/1.0 (+https://github.com/alfredjeanlab/listings)"

// NewHTTPClient returns a client whose whole request, including the body
// read, is bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// permanentStatus reports whether retrying a response code is pointless.
// Client errors are final except request timeout and rate limiting.
func permanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	return code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// retry runs op up to retries+1 times with exponential backoff. A cancelled
// context or a permanent status stops immediately.
func retry[T any](ctx context.Context, retries int, initial time.Duration, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 5 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, backoff.Permanent(err)
		}
		var se *StatusError
		if errors.As(err, &se) && permanentStatus(se.Code) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(retries+1)))
}

// getJSON fetches url and decodes the JSON body into dst, retrying
// transient failures.
func getJSON(ctx context.Context, client *http.Client, retries int, initial time.Duration, url string, header http.Header, dst any) error {
	_, err := retry(ctx, retries, initial, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			return struct{}{}, &StatusError{Code: resp.StatusCode, URL: url}
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("decode %s: %w", url, err))
		}
		return struct{}{}, nil
	})
	return err
}
