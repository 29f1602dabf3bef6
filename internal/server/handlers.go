package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/drf-client/pkg/api"
	"github.com/Sternrassler/drf-client/pkg/cache"
	"github.com/Sternrassler/drf-client/pkg/client"
	"github.com/Sternrassler/drf-client/pkg/metrics"
	"github.com/Sternrassler/drf-client/pkg/pagination"
	"github.com/Sternrassler/drf-client/pkg/request"
)

// Query parameters consumed by the server instead of being forwarded.
const (
	paramLocale  = "locale"
	paramRefresh = "refresh"
)

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"upstream_status,omitempty"`
}

type proxyHandler struct {
	client *api.Client
	logger zerolog.Logger
}

// errForeignEndpoint rejects endpoints that would leave the configured API.
var errForeignEndpoint = errors.New("endpoint must be a path relative to the api base url")

// target extracts the forwarded endpoint, params and the locale-scoped
// client from a request. Only relative endpoints are forwarded.
func (h *proxyHandler) target(c echo.Context) (string, map[string]any, *api.Client, bool, error) {
	endpoint := c.Param("*")
	if !relative(endpoint) {
		return endpoint, nil, nil, false, fmt.Errorf("%w: %q", errForeignEndpoint, endpoint)
	}

	query := c.QueryParams()
	cl := h.client
	if lang := query.Get(paramLocale); lang != "" {
		cl = cl.WithLocale(lang)
	}
	refresh := isTrue(query.Get(paramRefresh))

	return endpoint, forwardedParams(query), cl, refresh, nil
}

// relative reports whether endpoint, raw or unescaped, carries neither a
// scheme nor a host.
func relative(endpoint string) bool {
	candidates := []string{endpoint}
	if unescaped, err := url.PathUnescape(endpoint); err == nil {
		candidates = append(candidates, unescaped)
	}
	for _, e := range candidates {
		e = strings.TrimSpace(e)
		if strings.HasPrefix(e, "//") || request.IsAbsolute(e) {
			return false
		}
		if u, err := url.Parse(e); err != nil || u.Scheme != "" || u.Host != "" {
			return false
		}
	}
	return true
}

// GET /pages/<endpoint>
func (h *proxyHandler) handlePages(c echo.Context) error {
	endpoint, params, cl, refresh, err := h.target(c)
	if err != nil {
		return h.reject(c, endpoint, err)
	}
	ctx := c.Request().Context()

	res := api.FetchAllPages[json.RawMessage](ctx, cl, "", endpoint, params)
	if refresh {
		res = res.Refresh(ctx)
	}

	agg, err := res.Wait(ctx)
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	return c.JSON(http.StatusOK, agg)
}

// GET /one/<endpoint>
func (h *proxyHandler) handleOne(c echo.Context) error {
	endpoint, params, cl, refresh, err := h.target(c)
	if err != nil {
		return h.reject(c, endpoint, err)
	}
	ctx := c.Request().Context()

	res := api.FetchCached[json.RawMessage](ctx, cl, "", endpoint, request.Options{Params: params})
	if refresh {
		res = res.Refresh(ctx)
	}

	body, err := res.Wait(ctx)
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	if len(body) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSONBlob(http.StatusOK, body)
}

// POST /invalidate/<endpoint>
func (h *proxyHandler) handleInvalidate(c echo.Context) error {
	endpoint, params, cl, _, err := h.target(c)
	if err != nil {
		return h.reject(c, endpoint, err)
	}
	ctx := c.Request().Context()

	pagesKey := cl.PagesKey(endpoint, params)
	oneKey := cl.OneKey(endpoint, request.Options{Params: params})
	cl.Cache().Invalidate(ctx, pagesKey)
	cl.Cache().Invalidate(ctx, oneKey)

	h.logger.Debug().Str("pages_key", pagesKey).Str("one_key", oneKey).Msg("Invalidated cached reads")
	return c.NoContent(http.StatusNoContent)
}

func handleStats(c echo.Context) error {
	summary, err := metrics.Summary()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *proxyHandler) reject(c echo.Context, endpoint string, err error) error {
	h.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Rejected endpoint")
	return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
}

// fail maps library errors to proxy responses.
func (h *proxyHandler) fail(c echo.Context, endpoint string, err error) error {
	status := http.StatusBadGateway
	body := errorBody{Error: err.Error()}

	switch {
	case errors.Is(err, request.ErrInvalidEndpoint):
		status = http.StatusBadRequest
	case client.StatusCode(err) != 0:
		body.Status = client.StatusCode(err)
		if client.IsNotFound(err) {
			status = http.StatusNotFound
		}
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, cache.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, pagination.ErrMalformedPage),
		errors.Is(err, pagination.ErrCycleDetected),
		errors.Is(err, pagination.ErrTooManyPages),
		errors.Is(err, pagination.ErrForeignHost):
		status = http.StatusBadGateway
	}

	h.logger.Warn().Err(err).Str("endpoint", endpoint).Int("status", status).Msg("Proxied read failed")
	return c.JSON(status, body)
}

func forwardedParams(query url.Values) map[string]any {
	params := make(map[string]any, len(query))
	for k, vs := range query {
		if k == paramLocale || k == paramRefresh {
			continue
		}
		if len(vs) == 1 {
			params[k] = vs[0]
			continue
		}
		params[k] = append([]string(nil), vs...)
	}
	return params
}

func isTrue(v string) bool {
	switch v {
	case "1", "true", "yes":
		return true
	}
	return false
}
