package client

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	drfRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drf_retries_total",
		Help: "Total number of retry attempts",
	})

	drfRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drf_retry_exhausted_total",
		Help: "Total number of requests that failed after all retry attempts",
	})
)

// RetryConfig holds the transport retry policy. Retries are disabled unless
// MaxRetries is positive.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// RetryWaitMin is the initial backoff duration.
	RetryWaitMin time.Duration

	// RetryWaitMax caps the exponential backoff.
	RetryWaitMax time.Duration
}

// DefaultRetryConfig returns the default policy: no retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   0,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 30 * time.Second,
	}
}

// newTransport builds the retryablehttp client used for every request.
func newTransport(cfg Config, logger zerolog.Logger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}

	rc.RetryMax = cfg.Retry.MaxRetries
	if cfg.Retry.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.Retry.RetryWaitMin
	}
	if cfg.Retry.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.Retry.RetryWaitMax
	}

	rc.Logger = &leveledLogger{logger: logger}
	rc.CheckRetry = checkRetry(cfg.Retry.MaxRetries > 0)
	rc.ErrorHandler = errorHandler(logger)
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt == 0 {
			return
		}
		drfRetriesTotal.Inc()
		logger.Debug().
			Str("url", req.URL.Redacted()).
			Int("attempt", attempt).
			Msg("Retrying request")
	}

	return rc
}

// checkRetry returns a policy that never reports an error for a received
// response, so the final response always reaches the caller and status
// handling stays in Fetch.
func checkRetry(enabled bool) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !enabled {
			return false, nil
		}
		if err != nil {
			retry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
			return retry, nil
		}
		return shouldRetry(classifyStatus(resp.StatusCode)), nil
	}
}

// errorHandler passes the last response or error through unchanged.
func errorHandler(logger zerolog.Logger) retryablehttp.ErrorHandler {
	return func(resp *http.Response, err error, attempts int) (*http.Response, error) {
		if attempts > 1 {
			drfRetryExhaustedTotal.Inc()
			logger.Warn().
				Int("attempts", attempts).
				Msg("Retry attempts exhausted")
		}
		return resp, err
	}
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
