package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sfmovies/filmlocations/pkg/core"
)

var (
	// ErrZeroResults is returned when the geocoder knows no place for an address.
	ErrZeroResults = errors.New("geocoder returned no results")
	// ErrGeocode wraps transport failures and non-OK geocoder statuses.
	ErrGeocode = errors.New("geocoding failed")
)

// DefaultCity is appended to every address before geocoding.
const DefaultCity = "San Francisco, CA, US"

// Geocoder resolves a free-text address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (core.Coordinate, error)
}

// GoogleGeocoder talks to the Google geocode JSON API.
type GoogleGeocoder struct {
	endpoint string
	key      string
	city     string
	client   *http.Client
}

// GoogleOption configures a GoogleGeocoder.
type GoogleOption func(*GoogleGeocoder)

// WithCity replaces DefaultCity.
func WithCity(city string) GoogleOption {
	return func(g *GoogleGeocoder) {
		g.city = city
	}
}

// WithGeocodeClient replaces the HTTP client.
func WithGeocodeClient(hc *http.Client) GoogleOption {
	return func(g *GoogleGeocoder) {
		g.client = hc
	}
}

// NewGoogleGeocoder creates a geocoder for endpoint. key may be empty.
func NewGoogleGeocoder(endpoint, key string, opts ...GoogleOption) *GoogleGeocoder {
	g := &GoogleGeocoder{
		endpoint: strings.TrimSpace(endpoint),
		key:      key,
		city:     DefaultCity,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location core.Coordinate `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

// Address builds the query string sent for a location text.
func (g *GoogleGeocoder) Address(location string) string {
	location = strings.TrimSpace(location)
	if g.city == "" {
		return location
	}
	return location + ", " + g.city
}

// Geocode returns the first result for address.
func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (core.Coordinate, error) {
	values := url.Values{}
	values.Set("address", g.Address(address))
	if g.key != "" {
		values.Set("key", g.key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return core.Coordinate{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return core.Coordinate{}, fmt.Errorf("%w: %w", ErrGeocode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.Coordinate{}, fmt.Errorf("%w: status %d", ErrGeocode, resp.StatusCode)
	}

	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.Coordinate{}, fmt.Errorf("%w: decode: %w", ErrGeocode, err)
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return core.Coordinate{}, ErrZeroResults
	default:
		return core.Coordinate{}, fmt.Errorf("%w: %s %s", ErrGeocode, body.Status, body.ErrorMessage)
	}
	if len(body.Results) == 0 {
		return core.Coordinate{}, ErrZeroResults
	}
	return body.Results[0].Geometry.Location, nil
}
