// internal/surface/memory/memory.go
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sfmovies/filmlocations/internal/display"
	"github.com/sfmovies/filmlocations/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ErrUnknownMarker is returned for operations on a handle that was never
// placed or has been removed.
var ErrUnknownMarker = errors.New("unknown marker")

// Marker is the state of one placed marker.
type Marker struct {
	Handle     display.MarkerHandle
	Coordinate core.Coordinate
	Label      string
	Popup      string
	PopupOpen  bool
}

// Surface is an in-process map surface. It keeps markers in memory and lets
// callers simulate clicks.
type Surface struct {
	mu        sync.RWMutex
	next      display.MarkerHandle
	markers   map[display.MarkerHandle]*Marker
	listeners map[display.MarkerHandle]func()
	failures  map[string]error

	placed        int
	fitted        []geom.Envelope
	suggestions   []core.Suggestion
	notifications []string
}

// New creates an empty Surface.
func New() *Surface {
	return &Surface{
		markers:   make(map[display.MarkerHandle]*Marker),
		listeners: make(map[display.MarkerHandle]func()),
		failures:  make(map[string]error),
	}
}

// Fail makes every later call of op ("place", "remove", "listen", "show",
// "close", "fit") return err. A nil err clears the failure.
func (s *Surface) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// PlaceMarker implements display.MapSurface.
func (s *Surface) PlaceMarker(coord core.Coordinate, label string) (display.MarkerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["place"]; err != nil {
		return 0, err
	}
	s.next++
	s.markers[s.next] = &Marker{Handle: s.next, Coordinate: coord, Label: label}
	s.placed++
	return s.next, nil
}

// RemoveMarker implements display.MapSurface.
func (s *Surface) RemoveMarker(h display.MarkerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["remove"]; err != nil {
		return err
	}
	if _, ok := s.markers[h]; !ok {
		return fmt.Errorf("remove %d: %w", h, ErrUnknownMarker)
	}
	delete(s.markers, h)
	delete(s.listeners, h)
	return nil
}

// OnMarkerClick implements display.MapSurface.
func (s *Surface) OnMarkerClick(h display.MarkerHandle, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["listen"]; err != nil {
		return err
	}
	if _, ok := s.markers[h]; !ok {
		return fmt.Errorf("listen %d: %w", h, ErrUnknownMarker)
	}
	s.listeners[h] = fn
	return nil
}

// ShowPopup implements display.MapSurface.
func (s *Surface) ShowPopup(h display.MarkerHandle, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["show"]; err != nil {
		return err
	}
	m, ok := s.markers[h]
	if !ok {
		return fmt.Errorf("show %d: %w", h, ErrUnknownMarker)
	}
	m.Popup = content
	m.PopupOpen = true
	return nil
}

// ClosePopup implements display.MapSurface.
func (s *Surface) ClosePopup(h display.MarkerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["close"]; err != nil {
		return err
	}
	m, ok := s.markers[h]
	if !ok {
		return fmt.Errorf("close %d: %w", h, ErrUnknownMarker)
	}
	m.PopupOpen = false
	return nil
}

// FitBounds implements display.ViewportFitter.
func (s *Surface) FitBounds(env geom.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["fit"]; err != nil {
		return err
	}
	s.fitted = append(s.fitted, env)
	return nil
}

// Click fires the click listener of h, as a user click on the marker would.
func (s *Surface) Click(h display.MarkerHandle) error {
	fn, ok := s.Listener(h)
	if !ok {
		return fmt.Errorf("click %d: %w", h, ErrUnknownMarker)
	}
	fn()
	return nil
}

// Listener returns the click listener registered for h.
func (s *Surface) Listener(h display.MarkerHandle) (func(), bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.listeners[h]
	return fn, ok
}

// Markers returns the live markers in placement order.
func (s *Surface) Markers() []Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// OpenPopups returns the handles whose popup is open.
func (s *Surface) OpenPopups() []display.MarkerHandle {
	var out []display.MarkerHandle
	for _, m := range s.Markers() {
		if m.PopupOpen {
			out = append(out, m.Handle)
		}
	}
	return out
}

// Placed returns how many markers were ever placed.
func (s *Surface) Placed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.placed
}

// Fits returns every envelope passed to FitBounds.
func (s *Surface) Fits() []geom.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]geom.Envelope(nil), s.fitted...)
}

// ShowSuggestions records the autocomplete list.
func (s *Surface) ShowSuggestions(suggestions []core.Suggestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestions = append([]core.Suggestion(nil), suggestions...)
}

// Suggestions returns the last autocomplete list shown.
func (s *Surface) Suggestions() []core.Suggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Suggestion(nil), s.suggestions...)
}

// Notify records a user notification.
func (s *Surface) Notify(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, msg)
}

// Notifications returns every notification, oldest first.
func (s *Surface) Notifications() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.notifications...)
}

var (
	_ display.MapSurface     = (*Surface)(nil)
	_ display.ViewportFitter = (*Surface)(nil)
)
