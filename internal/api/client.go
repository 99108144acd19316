package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/evidence"
	"github.com/banshee-data/curbwatch/internal/httputil"
	"github.com/banshee-data/curbwatch/internal/parking"
)

// Client talks to a running curbwatchd.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the daemon at base, e.g.
// "http://127.0.0.1:8080". A nil hc uses http.DefaultClient.
func NewClient(base string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) url(path string, q url.Values) string {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := httputil.DoJSON(ctx, c.http, http.MethodGet, c.url("/api/status", nil), nil, &out)
	return out, err
}

// Config fetches the active tuning configuration.
func (c *Client) Config(ctx context.Context) (*config.TuningConfig, error) {
	var out config.TuningConfig
	if err := httputil.DoJSON(ctx, c.http, http.MethodGet, c.url("/api/config", nil), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConfig sends a partial configuration and returns the merged result.
func (c *Client) UpdateConfig(ctx context.Context, patch *config.TuningConfig) (*config.TuningConfig, error) {
	var out config.TuningConfig
	if err := httputil.DoJSON(ctx, c.http, http.MethodPut, c.url("/api/config", nil), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Evidence lists the queued bundles. With drain set the queue is handed
// over and emptied.
func (c *Client) Evidence(ctx context.Context, drain bool) ([]evidence.Bundle, error) {
	method, path := http.MethodGet, "/api/evidence"
	if drain {
		method, path = http.MethodPost, "/api/evidence/drain"
	}
	var out []evidence.Bundle
	err := httputil.DoJSON(ctx, c.http, method, c.url(path, nil), nil, &out)
	return out, err
}

// NotParked applies the manual override.
func (c *Client) NotParked(ctx context.Context) (NotParkedResponse, error) {
	var out NotParkedResponse
	err := httputil.DoJSON(ctx, c.http, http.MethodPost, c.url("/api/not-parked", nil), nil, &out)
	return out, err
}

// Reset forces the detector to IDLE.
func (c *Client) Reset(ctx context.Context) (parking.Event, error) {
	var out parking.Event
	err := httputil.DoJSON(ctx, c.http, http.MethodPost, c.url("/api/reset", nil), nil, &out)
	return out, err
}

// Decisions fetches the newest decision log lines, optionally filtered by
// component. The lines are returned as served.
func (c *Client) Decisions(ctx context.Context, component string, limit int) (string, error) {
	q := url.Values{}
	if component != "" {
		q.Set("component", component)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/decisions", q), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httputil.StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return string(body), nil
}
