package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/drf-client/pkg/request"
)

// Prometheus metrics for pagination walks.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drf_pagination_pages_fetched_total",
		Help: "Total number of pages fetched by pagination walks",
	})

	walksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drf_pagination_walks_total",
		Help: "Total pagination walks by outcome",
	}, []string{"outcome"})

	itemsAggregatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drf_pagination_items_total",
		Help: "Total number of items collected across pagination walks",
	})

	walkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drf_pagination_walk_duration_seconds",
		Help:    "Duration of complete pagination walks",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// Walk outcomes used as metric labels.
const (
	outcomeComplete       = "complete"
	outcomeSoftTerminated = "soft_terminated"
	outcomeFailed         = "failed"
)

var (
	// ErrMalformedPage is returned when a page body cannot be decoded.
	ErrMalformedPage = errors.New("malformed page")

	// ErrCycleDetected is returned when a next link repeats a URL already
	// visited during the same walk.
	ErrCycleDetected = errors.New("pagination cycle detected")

	// ErrTooManyPages is returned when a walk exceeds Config.MaxPages.
	ErrTooManyPages = errors.New("pagination page limit exceeded")

	// ErrForeignHost is returned when an absolute page URL points away from
	// Config.BaseURL.
	ErrForeignHost = errors.New("pagination link leaves base host")
)

// PageFetcher fetches a single page. Params must be ignored by
// implementations when endpoint is an absolute URL.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, params map[string]any) ([]byte, error)
}

// Config holds walker configuration.
type Config struct {
	// MaxPages stops a walk after this many pages (0 = unlimited).
	MaxPages int

	// BaseURL, when set, restricts absolute page URLs to its scheme and host.
	BaseURL string

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default walker configuration.
func DefaultConfig() Config {
	return Config{MaxPages: 0}
}

// Walker follows next links sequentially, one request at a time.
type Walker struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// Stats summarises a walk.
type Stats struct {
	Pages          int
	Items          int
	SoftTerminated bool
	Duration       time.Duration
}

// NewWalker creates a new walker.
func NewWalker(fetcher PageFetcher, config Config) *Walker {
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}

	logger := log.With().Str("component", "pagination").Logger()
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Walker{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// WalkAll collects every page of endpoint into one aggregate using a walker
// with the default configuration.
func WalkAll[T any](ctx context.Context, fetcher PageFetcher, endpoint string, params map[string]any) (*Aggregated[T], error) {
	return Walk[T](ctx, NewWalker(fetcher, DefaultConfig()), endpoint, params)
}

// Walk collects every page of endpoint into one aggregate. Any page failure
// aborts the walk and discards what was collected; no partial aggregate is
// returned alongside an error.
func Walk[T any](ctx context.Context, w *Walker, endpoint string, params map[string]any) (*Aggregated[T], error) {
	agg := Empty[T]()

	_, err := Iterate(ctx, w, endpoint, params, func(_ int, items []T) error {
		agg.Results = append(agg.Results, items...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	agg.Count = len(agg.Results)
	return agg, nil
}

// Iterate walks endpoint page by page and hands each page's results to fn
// in order. Params apply to the first request only when it is relative;
// next links are followed verbatim. A page whose body is valid JSON but has
// no results array ends the walk without error.
func Iterate[T any](ctx context.Context, w *Walker, endpoint string, params map[string]any, fn func(page int, items []T) error) (Stats, error) {
	start := time.Now()
	stats := Stats{}

	fail := func(err error) (Stats, error) {
		stats.Duration = time.Since(start)
		walksTotal.WithLabelValues(outcomeFailed).Inc()
		w.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Int("pages", stats.Pages).
			Msg("Pagination walk failed")
		return stats, err
	}

	visited := make(map[string]struct{})
	next := endpoint

	for next != "" {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("walk %s: %w", endpoint, err))
		}

		if _, seen := visited[next]; seen {
			return fail(fmt.Errorf("%w: %s", ErrCycleDetected, next))
		}
		visited[next] = struct{}{}

		if w.config.MaxPages > 0 && stats.Pages >= w.config.MaxPages {
			return fail(fmt.Errorf("%w: %d", ErrTooManyPages, w.config.MaxPages))
		}

		pageNum := stats.Pages + 1

		pageParams := params
		if request.IsAbsolute(next) {
			if w.config.BaseURL != "" && !request.SameHost(next, w.config.BaseURL) {
				return fail(fmt.Errorf("%w: %s", ErrForeignHost, next))
			}
			pageParams = nil
		}

		body, err := w.fetcher.FetchPage(ctx, next, pageParams)
		if err != nil {
			return fail(fmt.Errorf("fetch page %d of %s: %w", pageNum, endpoint, err))
		}

		page, ok, reason, err := decodePage[T](body)
		if err != nil {
			return fail(fmt.Errorf("page %d of %s: %w", pageNum, endpoint, err))
		}
		if !ok {
			stats.SoftTerminated = true
			w.logger.Warn().
				Str("endpoint", endpoint).
				Str("url", next).
				Int("page", pageNum).
				Str("reason", reason).
				Msg("Page has no results, stopping walk")
			break
		}

		pagesFetchedTotal.Inc()
		stats.Pages++
		stats.Items += len(page.Results)

		w.logger.Debug().
			Str("url", next).
			Int("page", pageNum).
			Int("items", len(page.Results)).
			Int("count", page.Count).
			Msg("Fetched page")

		if err := fn(pageNum, page.Results); err != nil {
			return fail(fmt.Errorf("page %d of %s: %w", pageNum, endpoint, err))
		}

		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}

	stats.Duration = time.Since(start)
	outcome := outcomeComplete
	if stats.SoftTerminated {
		outcome = outcomeSoftTerminated
	}
	walksTotal.WithLabelValues(outcome).Inc()
	walkDuration.Observe(stats.Duration.Seconds())
	itemsAggregatedTotal.Add(float64(stats.Items))

	w.logger.Info().
		Str("endpoint", endpoint).
		Int("pages", stats.Pages).
		Int("items", stats.Items).
		Str("outcome", outcome).
		Dur("duration", stats.Duration).
		Msg("Pagination walk complete")

	return stats, nil
}

// decodePage decodes one page envelope. ok is false when the body is valid
// JSON without a usable results array; reason describes why.
func decodePage[T any](body []byte) (page Page[T], ok bool, reason string, err error) {
	if !json.Valid(body) {
		return page, false, "", fmt.Errorf("%w: invalid json", ErrMalformedPage)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return page, false, "body is not an object", nil
	}

	raw, present := fields["results"]
	if !present {
		return page, false, "results missing", nil
	}
	if isNull(raw) {
		return page, false, "results null", nil
	}

	if err := json.Unmarshal(raw, &page.Results); err != nil {
		return page, false, "", fmt.Errorf("%w: results: %v", ErrMalformedPage, err)
	}
	if page.Results == nil {
		page.Results = []T{}
	}

	if v, present := fields["next"]; present && !isNull(v) {
		if err := json.Unmarshal(v, &page.Next); err != nil {
			return page, false, "", fmt.Errorf("%w: next: %v", ErrMalformedPage, err)
		}
	}
	if v, present := fields["previous"]; present && !isNull(v) {
		// previous is informational only
		_ = json.Unmarshal(v, &page.Previous)
	}
	if v, present := fields["count"]; present && !isNull(v) {
		_ = json.Unmarshal(v, &page.Count)
	}

	return page, true, "", nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
