package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/sfmovies/filmlocations/internal/relay"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RouterConfig holds the HTTP middleware settings.
type RouterConfig struct {
	AllowedOrigins []string
	// RateLimit is the number of requests allowed per client IP and minute.
	// Zero disables rate limiting.
	RateLimit int
	// MapRelay, when set, is mounted under /ws/map.
	MapRelay *relay.Hub
}

// Router builds the chi router of the location API.
func (s *Service) Router(cfg RouterConfig) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Api-Key"},
		MaxAge:         300,
	}))
	r.Use(s.countRequests)

	r.Get("/healthcheck", s.Healthcheck)

	r.Route("/api/locations", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
		}

		r.Get("/most_popular", s.MostPopular)
		r.Get("/explore", s.Explore)
		r.Get("/search", s.Search)
		r.Get("/search/", s.Search)
		r.Get("/search/{q}", s.Search)
		r.With(s.requireAPIKey).Post("/{id}/click", s.Click)
	})

	if cfg.MapRelay != nil {
		r.Get("/ws/map/client", cfg.MapRelay.ServeClient)
		r.Get("/ws/map/page", cfg.MapRelay.ServePage)
	}

	return r
}

func (s *Service) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.Add(r.Context(), 1, metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("status", strconv.Itoa(status)),
		))
	})
}
