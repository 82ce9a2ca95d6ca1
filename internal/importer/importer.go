// Package importer loads the SF film locations data set into storage,
// geocoding records that arrive without coordinates.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sfmovies/filmlocations/internal/geo"
	"github.com/sfmovies/filmlocations/internal/parser"
	"github.com/sfmovies/filmlocations/internal/storage"
	"github.com/sfmovies/filmlocations/pkg/core"
)

// ErrFetch wraps failures to read the source document.
var ErrFetch = errors.New("failed to fetch location data")

// Store is the part of a storage backend the importer writes to.
type Store interface {
	Get(ctx context.Context, id string) (core.LocationRecord, error)
	Upsert(ctx context.Context, items []storage.Item) (int, error)
}

// Config controls geocoding and filtering.
type Config struct {
	// Delay is waited between two geocoder calls.
	Delay time.Duration
	// Center and MaxDistanceKm bound geocoded points. Zero MaxDistanceKm disables the filter.
	Center        core.Coordinate
	MaxDistanceKm float64
}

// Summary reports what one import did.
type Summary struct {
	Fetched  int `json:"fetched"`
	Geocoded int `json:"geocoded"`
	Skipped  int `json:"skipped"`
	Inserted int `json:"inserted"`
}

// Importer fills a Store from a location document.
type Importer struct {
	cfg      Config
	store    Store
	geocoder Geocoder
	parser   *parser.Parser
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates an importer. geocoder may be nil, in which case records
// without coordinates are skipped.
func New(cfg Config, store Store, geocoder Geocoder, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		cfg:      cfg,
		store:    store,
		geocoder: geocoder,
		parser:   parser.NewParser(logger),
		logger:   logger,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open returns the document at src, which is an http(s) URL or a file path.
func Open(ctx context.Context, src string, client *http.Client) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return f, nil
	}

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, src, resp.StatusCode)
	}
	return resp.Body, nil
}

// wireFields are the keys carried by core.RawLocation; anything else is kept as extra.
var wireFields = map[string]bool{
	"id": true, "release_year": true, "title": true, "writer": true,
	"actor_1": true, "actor_2": true, "actor_3": true, "locations": true,
	"director": true, "distributor": true, "production_company": true,
	"lat": true, "lng": true,
}

// Run imports every object of the JSON array read from r. Records already
// stored are skipped before geocoding. On a geocoder failure other than
// ErrZeroResults the records prepared so far are still stored and the error
// is returned with the partial summary.
func (im *Importer) Run(ctx context.Context, r io.Reader) (Summary, error) {
	var docs []json.RawMessage
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", parser.ErrDecode, err)
	}

	sum := Summary{Fetched: len(docs)}
	items := make([]storage.Item, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	geocodes := 0

	var runErr error
	for _, doc := range docs {
		item, geocoded, err := im.prepare(ctx, doc, seen, &geocodes)
		if geocoded {
			sum.Geocoded++
		}
		if err != nil {
			runErr = err
			break
		}
		if item == nil {
			sum.Skipped++
			continue
		}
		items = append(items, *item)
	}

	if len(items) > 0 {
		inserted, err := im.store.Upsert(ctx, items)
		sum.Inserted = inserted
		sum.Skipped += len(items) - inserted
		if err != nil {
			return sum, errors.Join(runErr, fmt.Errorf("failed to store locations: %w", err))
		}
	}

	im.logger.Info("import finished",
		"fetched", sum.Fetched,
		"geocoded", sum.Geocoded,
		"skipped", sum.Skipped,
		"inserted", sum.Inserted,
	)
	return sum, runErr
}

// prepare turns one source object into an Item. A nil item means skip.
func (im *Importer) prepare(ctx context.Context, doc json.RawMessage, seen map[string]bool, geocodes *int) (*storage.Item, bool, error) {
	var raw core.RawLocation
	if err := json.Unmarshal(doc, &raw); err != nil {
		im.logger.Debug("skipping malformed location", "error", err)
		return nil, false, nil
	}

	// without a location text there is nothing to put on the map
	if raw.ID == "" && raw.Locations == "" {
		return nil, false, nil
	}
	if raw.ID == "" {
		raw.ID = core.Text(parser.DeriveID(string(raw.Title), string(raw.ReleaseYear), string(raw.Locations)))
	}
	id := string(raw.ID)
	if seen[id] {
		return nil, false, nil
	}
	seen[id] = true

	if _, err := im.store.Get(ctx, id); err == nil {
		return nil, false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up location %s: %w", id, err)
	}

	geocoded := false
	if !raw.Lat.Set || !raw.Lng.Set {
		if im.geocoder == nil || raw.Locations == "" {
			return nil, false, nil
		}
		if *geocodes > 0 {
			if err := im.sleep(ctx, im.cfg.Delay); err != nil {
				return nil, false, err
			}
		}
		*geocodes++

		coord, err := im.geocoder.Geocode(ctx, string(raw.Locations))
		if errors.Is(err, ErrZeroResults) {
			im.logger.Debug("no coordinates for location", "id", id, "locations", raw.Locations)
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("geocode %q: %w", raw.Locations, err)
		}
		geocoded = true
		// the geocoder sometimes resolves to a namesake far away
		if im.cfg.MaxDistanceKm > 0 && !geo.Within(im.cfg.Center, coord, im.cfg.MaxDistanceKm) {
			im.logger.Debug("geocoded location too far away", "id", id, "lat", coord.Lat, "lng", coord.Lng)
			return nil, true, nil
		}
		raw.Lat = core.NumberOf(coord.Lat)
		raw.Lng = core.NumberOf(coord.Lng)
	}

	rec, err := im.parser.Normalize(raw)
	if err != nil {
		im.logger.Debug("dropping location", "error", err)
		return nil, geocoded, nil
	}
	return &storage.Item{Record: rec, Extra: extraFields(doc)}, geocoded, nil
}

// extraFields collects the scalar source fields outside the wire shape, such as fun_facts.
func extraFields(doc json.RawMessage) map[string]string {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(doc, &all); err != nil {
		return nil
	}
	var extra map[string]string
	for k, raw := range all {
		if wireFields[k] {
			continue
		}
		var v core.Text
		if err := json.Unmarshal(raw, &v); err != nil || v == "" {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[k] = string(v)
	}
	return extra
}
