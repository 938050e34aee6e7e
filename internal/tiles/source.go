// Package tiles downloads, extracts and caches SRTM elevation tiles.
package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/lox/watershed/internal/metrics"
	"github.com/lox/watershed/internal/srtm"
)

// DefaultBaseURL is the LP DAAC distribution directory for SRTMGL1 v3.
const DefaultBaseURL = "https://e4ftl01.cr.usgs.gov/MEASURES/SRTMGL1.003/2000.02.11/"

var (
	// ErrTileNotFound is returned when the service has no archive for a tile,
	// which is the case for tiles entirely over ocean.
	ErrTileNotFound = errors.New("tile not found")

	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errCircuitOpen = errors.New("circuit breaker open")
)

// A Source fetches the zip archive of a tile.
type Source interface {
	Fetch(ctx context.Context, tile srtm.Tile) (io.ReadCloser, error)
	Name() string
}

// HTTPSource fetches tile archives over HTTP(S).
type HTTPSource struct {
	client         *http.Client
	baseURL        string
	breaker        *gobreaker.CircuitBreaker
	maxElapsedTime time.Duration
}

type HTTPSourceOption func(*HTTPSource)

// WithMaxElapsedTime bounds the total time spent retrying one archive.
func WithMaxElapsedTime(d time.Duration) HTTPSourceOption {
	return func(s *HTTPSource) {
		s.maxElapsedTime = d
	}
}

// WithBreakerSettings replaces the default circuit breaker.
func WithBreakerSettings(settings gobreaker.Settings) HTTPSourceOption {
	return func(s *HTTPSource) {
		s.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

func NewHTTPSource(client *http.Client, baseURL string, options ...HTTPSourceOption) *HTTPSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	s := &HTTPSource{
		client:         client,
		baseURL:        baseURL,
		maxElapsedTime: 5 * time.Minute,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "tiles",
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *HTTPSource) Name() string {
	return "http"
}

// URL returns the archive URL for tile.
func (s *HTTPSource) URL(tile srtm.Tile) string {
	return s.baseURL + url.PathEscape(tile.ArchiveName())
}

// Fetch downloads the archive for tile. Rate limiting, server errors and
// network failures, including a connection dropped mid-body, are retried
// with exponential backoff; a missing archive is reported immediately as
// ErrTileNotFound.
func (s *HTTPSource) Fetch(ctx context.Context, tile srtm.Tile) (io.ReadCloser, error) {
	u := s.URL(tile)

	var body []byte
	operation := func() error {
		notFound := false
		result, err := s.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
			}
			resp, err := s.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", tile, err)
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusOK:
				b, err := io.ReadAll(resp.Body)
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", tile, err)
				}
				return b, nil
			case resp.StatusCode == http.StatusNotFound:
				// Not a failure as far as the breaker is concerned.
				notFound = true
				return nil, nil
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, fmt.Errorf("%w: %s", errRateLimited, tile)
			case resp.StatusCode >= 500:
				return nil, fmt.Errorf("%w: %s: status %d", errServerError, tile, resp.StatusCode)
			default:
				b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return nil, backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", tile, resp.StatusCode, strings.TrimSpace(string(b))))
			}
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: %v", errCircuitOpen, err))
		}
		if err != nil {
			return err
		}
		if notFound {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrTileNotFound, tile))
		}
		body = result.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.maxElapsedTime
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// instrumented wraps a Source with download metrics.
type instrumented struct {
	Source
}

func (s instrumented) Fetch(ctx context.Context, tile srtm.Tile) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.Source.Fetch(ctx, tile)
	metrics.TileDownloadLatency.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, ErrTileNotFound):
		metrics.TileDownloadsTotal.WithLabelValues(s.Name(), "not_found").Inc()
	case err != nil:
		metrics.TileDownloadsTotal.WithLabelValues(s.Name(), "error").Inc()
	default:
		metrics.TileDownloadsTotal.WithLabelValues(s.Name(), "ok").Inc()
	}
	return rc, err
}
