// Package display owns the set of location records currently shown on the
// map, their markers and their popups.
package display

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sfmovies/filmlocations/internal/geo"
	"github.com/sfmovies/filmlocations/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// MarkerHandle is an opaque reference to a marker placed on a MapSurface.
type MarkerHandle uint64

// ParseHandle parses a marker handle from its decimal form, as carried by
// UI events.
func ParseHandle(arg string) (MarkerHandle, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid marker handle %q: %w", arg, err)
	}
	return MarkerHandle(v), nil
}

// MapSurface is the map widget the set draws on.
type MapSurface interface {
	PlaceMarker(coord core.Coordinate, label string) (MarkerHandle, error)
	RemoveMarker(h MarkerHandle) error
	OnMarkerClick(h MarkerHandle, fn func()) error
	ShowPopup(h MarkerHandle, content string) error
	ClosePopup(h MarkerHandle) error
}

// ViewportFitter is implemented by surfaces that can zoom to the displayed markers.
type ViewportFitter interface {
	FitBounds(env geom.Envelope) error
}

// PopupRenderer renders the popup body of a record.
type PopupRenderer interface {
	Render(rec core.LocationRecord) (string, error)
}

// RankTracker is told which record was clicked.
type RankTracker interface {
	Track(ctx context.Context, id string) error
}

// Dependencies holds the collaborators of a Set.
type Dependencies struct {
	Surface  MapSurface
	Renderer PopupRenderer
	Tracker  RankTracker // optional
	Logger   *slog.Logger
}

// Option configures a Set.
type Option func(*Set)

// WithTrackTimeout bounds each RankTracker call.
func WithTrackTimeout(d time.Duration) Option {
	return func(s *Set) {
		s.trackTimeout = d
	}
}

// DefaultTrackTimeout is used when WithTrackTimeout is not given.
const DefaultTrackTimeout = 5 * time.Second

type entry struct {
	record    core.LocationRecord
	marker    MarkerHandle
	content   string
	popupOpen bool
	live      bool
}

// Entry is a read-only view of one displayed record.
type Entry struct {
	Record    core.LocationRecord
	Marker    MarkerHandle
	PopupOpen bool
}

// Set is the collection of displayed records. At most one entry has its
// popup open at any time.
type Set struct {
	mu      sync.Mutex
	entries []*entry
	byID    map[string][]*entry
	count   atomic.Int64

	surface  MapSurface
	renderer PopupRenderer
	tracker  RankTracker
	logger   *slog.Logger

	trackTimeout time.Duration
	tracking     sync.WaitGroup
}

// New creates an empty Set.
func New(deps Dependencies, opts ...Option) *Set {
	s := &Set{
		byID:         make(map[string][]*entry),
		surface:      deps.Surface,
		renderer:     deps.Renderer,
		tracker:      deps.Tracker,
		logger:       deps.Logger,
		trackTimeout: DefaultTrackTimeout,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReplaceAll tears down every displayed entry and displays records instead,
// in input order. Records with an invalid coordinate, or that the surface
// or renderer fail on, are skipped.
func (s *Set) ReplaceAll(records []core.LocationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	for _, rec := range records {
		s.addLocked(rec)
	}
	s.logger.Debug("display replaced", "requested", len(records), "displayed", len(s.entries))

	if fitter, ok := s.surface.(ViewportFitter); ok && len(s.entries) > 0 {
		if err := fitter.FitBounds(s.boundsLocked()); err != nil {
			s.logger.Warn("fit bounds failed", "error", err)
		}
	}
}

// Clear releases every marker without replacement.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// NotifyClicked closes any open popup and opens the one for the first entry
// with the given id, then reports the click to the RankTracker. An unknown id
// is a no-op.
func (s *Set) NotifyClicked(id string) {
	s.mu.Lock()
	matches := s.byID[id]
	if len(matches) == 0 {
		s.mu.Unlock()
		s.logger.Debug("click on undisplayed location", "id", id)
		return
	}
	s.activateLocked(matches[0])
	s.mu.Unlock()

	s.track(id)
}

// clicked is the marker click listener of e.
func (s *Set) clicked(e *entry) {
	s.mu.Lock()
	if !e.live {
		s.mu.Unlock()
		s.logger.Debug("click on removed marker", "id", e.record.ID)
		return
	}
	s.activateLocked(e)
	id := e.record.ID
	s.mu.Unlock()

	s.track(id)
}

// activateLocked closes every open popup, then opens target's.
func (s *Set) activateLocked(target *entry) {
	for _, e := range s.entries {
		if !e.popupOpen {
			continue
		}
		if err := s.surface.ClosePopup(e.marker); err != nil {
			s.logger.Warn("close popup failed", "id", e.record.ID, "error", err)
		}
		e.popupOpen = false
	}

	if err := s.surface.ShowPopup(target.marker, target.content); err != nil {
		s.logger.Warn("show popup failed", "id", target.record.ID, "error", err)
		return
	}
	target.popupOpen = true
}

func (s *Set) addLocked(rec core.LocationRecord) {
	if !geo.ValidCoordinate(rec.Coordinate) {
		s.logger.Debug("skipping location without valid coordinate", "id", rec.ID)
		return
	}

	h, err := s.surface.PlaceMarker(rec.Coordinate, rec.Title)
	if err != nil {
		s.logger.Warn("place marker failed", "id", rec.ID, "error", err)
		return
	}

	content, err := s.renderer.Render(rec)
	if err != nil {
		s.logger.Warn("render popup failed", "id", rec.ID, "error", err)
		if err := s.surface.RemoveMarker(h); err != nil {
			s.logger.Warn("remove marker failed", "id", rec.ID, "error", err)
		}
		return
	}

	e := &entry{record: rec, marker: h, content: content, live: true}
	if err := s.surface.OnMarkerClick(h, func() { s.clicked(e) }); err != nil {
		s.logger.Warn("register click listener failed", "id", rec.ID, "error", err)
	}

	s.entries = append(s.entries, e)
	s.byID[rec.ID] = append(s.byID[rec.ID], e)
	s.count.Store(int64(len(s.entries)))
}

func (s *Set) teardownLocked() {
	for _, e := range s.entries {
		if e.popupOpen {
			if err := s.surface.ClosePopup(e.marker); err != nil {
				s.logger.Warn("close popup failed", "id", e.record.ID, "error", err)
			}
			e.popupOpen = false
		}
		if err := s.surface.RemoveMarker(e.marker); err != nil {
			s.logger.Warn("remove marker failed", "id", e.record.ID, "error", err)
		}
		e.live = false
	}
	s.entries = nil
	s.byID = make(map[string][]*entry)
	s.count.Store(0)
}

func (s *Set) track(id string) {
	if s.tracker == nil {
		return
	}

	s.tracking.Add(1)
	go func() {
		defer s.tracking.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("rank tracker panicked", "id", id, "panic", fmt.Sprint(r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.trackTimeout)
		defer cancel()
		if err := s.tracker.Track(ctx, id); err != nil {
			s.logger.Warn("track click failed", "id", id, "error", err)
		}
	}()
}

// WaitTracking blocks until every in-flight RankTracker call has returned.
func (s *Set) WaitTracking() {
	s.tracking.Wait()
}

// Len returns the number of displayed entries. It does not take the set
// lock, so log handlers may call it while the set is logging.
func (s *Set) Len() int {
	return int(s.count.Load())
}

// Entries returns a snapshot of the displayed entries in display order.
func (s *Set) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = Entry{Record: e.record, Marker: e.marker, PopupOpen: e.popupOpen}
	}
	return out
}

// OpenPopup returns the id of the entry whose popup is open.
func (s *Set) OpenPopup() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.popupOpen {
			return e.record.ID, true
		}
	}
	return "", false
}

// Bounds returns the envelope of the displayed coordinates.
func (s *Set) Bounds() geom.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundsLocked()
}

func (s *Set) boundsLocked() geom.Envelope {
	coords := make([]core.Coordinate, len(s.entries))
	for i, e := range s.entries {
		coords[i] = e.record.Coordinate
	}
	return geo.Bounds(coords)
}
