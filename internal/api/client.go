// internal/api/client.go
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sfmovies/filmlocations/internal/parser"
	"github.com/sfmovies/filmlocations/pkg/core"
)

var (
	// ErrTransport wraps network failures and unexpected HTTP statuses.
	ErrTransport = errors.New("location api unreachable")
	// ErrDecode wraps malformed response bodies.
	ErrDecode = errors.New("location api returned malformed data")
)

// APIKeyHeader carries the client key on write requests.
const APIKeyHeader = "X-Api-Key"

// Client handles communication with the location API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	parser     *parser.Parser
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default 30s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used when dropping invalid records.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.parser = parser.NewParser(l)
	}
}

// New creates a new API client.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		parser:     parser.NewParser(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Healthcheck checks if the location API is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d: %w", resp.StatusCode, ErrTransport)
	}
	return nil
}

// MostPopular fetches the most clicked locations.
func (c *Client) MostPopular(ctx context.Context) ([]core.LocationRecord, error) {
	return c.getLocations(ctx, "/api/locations/most_popular")
}

// Explore fetches a random sample of locations.
func (c *Client) Explore(ctx context.Context) ([]core.LocationRecord, error) {
	return c.getLocations(ctx, "/api/locations/explore")
}

// Search runs a free-text search. Result order is preserved.
func (c *Client) Search(ctx context.Context, query string) ([]core.LocationRecord, error) {
	return c.getLocations(ctx, "/api/locations/search?q="+url.QueryEscape(query))
}

// TrackClick records a click on the location with the given id.
func (c *Client) TrackClick(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/locations/"+url.PathEscape(id)+"/click", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("click request failed: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("click returned status %d: %w", resp.StatusCode, ErrTransport)
	}
	return nil
}

func (c *Client) getLocations(ctx context.Context, path string) ([]core.LocationRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s failed: %w: %w", path, ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %d: %w", path, resp.StatusCode, ErrTransport)
	}

	records, err := c.parser.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w: %w", path, ErrDecode, err)
	}
	return records, nil
}
