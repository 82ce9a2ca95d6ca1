// Package handlers serves the location API: most popular, explore, search
// and click tracking over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sfmovies/filmlocations/internal/api"
	"github.com/sfmovies/filmlocations/internal/cache"
	"github.com/sfmovies/filmlocations/internal/rank"
	"github.com/sfmovies/filmlocations/internal/storage"
	"github.com/sfmovies/filmlocations/internal/util"
	"github.com/sfmovies/filmlocations/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/sfmovies/filmlocations/internal/handlers"

// Default limits, matching the config defaults.
const (
	DefaultSearchLimit  = 50
	DefaultPopularLimit = 50
	DefaultCacheTTL     = time.Hour
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Backend storage.Backend
	Cache   cache.Store  // optional, in-process when nil
	Tracker rank.Tracker // optional click analytics
	Logger  *slog.Logger

	SearchLimit  int
	PopularLimit int
	CacheTTL     time.Duration
	// APIKey, when set, is required on click requests.
	APIKey string
}

// Service provides the HTTP handlers of the location API.
type Service struct {
	deps     Dependencies
	logger   *slog.Logger
	requests metric.Int64Counter
	cacheHit metric.Int64Counter
}

// NewService creates a new handler service
func NewService(deps Dependencies) (*Service, error) {
	if deps.Backend == nil {
		return nil, errors.New("handlers: storage backend is required")
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.SearchLimit <= 0 {
		deps.SearchLimit = DefaultSearchLimit
	}
	if deps.PopularLimit <= 0 {
		deps.PopularLimit = DefaultPopularLimit
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = DefaultCacheTTL
	}

	s := &Service{deps: deps, logger: deps.Logger}

	m := otel.Meter(instrumentationName)
	var err error
	s.requests, err = m.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Location API requests by route and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request counter: %w", err)
	}
	s.cacheHit, err = m.Int64Counter(
		"locations.cache.hits",
		metric.WithDescription("Location API responses served from cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache hit counter: %w", err)
	}
	return s, nil
}

func (s *Service) popularKey() string {
	return "popular:" + strconv.Itoa(s.deps.PopularLimit)
}

// MostPopular serves GET /api/locations/most_popular.
func (s *Service) MostPopular(w http.ResponseWriter, r *http.Request) {
	s.serveCached(w, r, "popular", s.popularKey(), func(ctx context.Context) ([]core.RawLocation, error) {
		records, err := s.deps.Backend.MostPopular(ctx, s.deps.PopularLimit)
		return toRaw(records), err
	})
}

// Explore serves GET /api/locations/explore, a random sample that is never cached.
func (s *Service) Explore(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Backend.Random(r.Context(), s.deps.PopularLimit)
	if err != nil {
		s.logger.Error("explore failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load locations")
		return
	}
	writeJSON(w, http.StatusOK, toRaw(records))
}

// Search serves GET /api/locations/search?q= and /api/locations/search/{q}.
func (s *Service) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if p := chi.URLParam(r, "q"); p != "" {
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
		q = p
	}

	terms := util.SanitizeQuery(q)
	if len(terms) == 0 {
		writeJSON(w, http.StatusOK, []core.RawLocation{})
		return
	}

	s.serveCached(w, r, "search", util.CacheKey("search", terms), func(ctx context.Context) ([]core.RawLocation, error) {
		records, err := s.deps.Backend.Search(ctx, terms, s.deps.SearchLimit)
		return toRaw(records), err
	})
}

// Click serves POST /api/locations/{id}/click.
func (s *Service) Click(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	if err := s.deps.Backend.RecordClick(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		s.logger.Error("record click failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record click")
		return
	}

	if err := s.deps.Cache.Delete(ctx, s.popularKey()); err != nil {
		s.logger.Warn("invalidate popular cache failed", "error", err)
	}
	if s.deps.Tracker != nil {
		if err := s.deps.Tracker.Track(ctx, id); err != nil {
			s.logger.Warn("click analytics failed", "id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Healthcheck serves GET /healthcheck.
func (s *Service) Healthcheck(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Backend.Count(r.Context())
	if err != nil {
		s.logger.Error("healthcheck failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "locations": n})
}

func (s *Service) serveCached(w http.ResponseWriter, r *http.Request, kind, key string, fn func(context.Context) ([]core.RawLocation, error)) {
	locations, hit, err := cache.Remember(r.Context(), s.deps.Cache, key, s.deps.CacheTTL, fn)
	if err != nil {
		s.logger.Error("load locations failed", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load locations")
		return
	}
	if hit {
		s.cacheHit.Add(r.Context(), 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	if locations == nil {
		locations = []core.RawLocation{}
	}
	writeJSON(w, http.StatusOK, locations)
}

// requireAPIKey rejects requests without the configured key.
func (s *Service) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.APIKey != "" && r.Header.Get(api.APIKeyHeader) != s.deps.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func toRaw(records []core.LocationRecord) []core.RawLocation {
	out := make([]core.RawLocation, len(records))
	for i, rec := range records {
		out[i] = rec.ToRaw()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
