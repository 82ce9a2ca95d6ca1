// Package websocket is a map surface that drives a remote map page over a
// WebSocket. Outbound calls become envelopes; inbound page events become
// dispatcher events.
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/sfmovies/filmlocations/internal/dispatcher"
	"github.com/sfmovies/filmlocations/internal/display"
	"github.com/sfmovies/filmlocations/internal/geo"
	"github.com/sfmovies/filmlocations/pkg/core"
	"github.com/sfmovies/filmlocations/pkg/streaming"
)

var (
	// ErrUnknownMarker is returned for a handle that is not placed.
	ErrUnknownMarker = errors.New("unknown marker")
	// ErrSendFailed is returned when the outbound queue rejects a message.
	ErrSendFailed = errors.New("websocket send failed")
)

// Dispatcher command names for inbound page events.
const (
	CommandClick  = "click"
	CommandQuery  = "query"
	CommandSelect = "select"
)

// Config holds WebSocket surface configuration.
type Config struct {
	URL    string
	Secret string

	CenterLat     float64
	CenterLng     float64
	Zoom          int
	PopupMaxWidth int
	// Viewport size used to compute fit_bounds zoom.
	Width  int
	Height int

	// Inbound receives page events; usually a dispatcher's Dispatch.
	Inbound func(dispatcher.Event) (any, error)
	Logger  *slog.Logger
}

type marker struct {
	payload streaming.PlaceMarkerPayload
	onClick func()
}

// Surface implements display.MapSurface and display.ViewportFitter.
type Surface struct {
	cfg  Config
	conn *connection

	mu      sync.Mutex
	next    display.MarkerHandle
	markers map[display.MarkerHandle]*marker
	popup   *streaming.ShowPopupPayload
	fit     *streaming.FitBoundsPayload
	logger  *slog.Logger
}

// New creates a Surface. Call Connect to start streaming.
func New(cfg Config) *Surface {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ws-surface")

	s := &Surface{
		cfg:     cfg,
		conn:    newConnection(logger),
		markers: make(map[display.MarkerHandle]*marker),
		logger:  logger,
	}
	s.conn.snapshot = s.snapshot
	s.conn.receive = s.receive
	return s
}

// Connect dials the map page relay and resets the page.
func (s *Surface) Connect() error {
	if err := s.conn.dial(s.cfg.URL, s.cfg.Secret); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(streaming.TypeReset, s.resetPayload())
}

// Close disconnects from the WebSocket server.
func (s *Surface) Close() error {
	return s.conn.close()
}

func (s *Surface) resetPayload() streaming.ResetPayload {
	return streaming.ResetPayload{CenterLat: s.cfg.CenterLat, CenterLng: s.cfg.CenterLng, Zoom: s.cfg.Zoom}
}

func (s *Surface) sendLocked(msgType string, payload any) error {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	if !s.conn.send(data) {
		return fmt.Errorf("%s: %w", msgType, ErrSendFailed)
	}
	return nil
}

// PlaceMarker implements display.MapSurface.
func (s *Surface) PlaceMarker(coord core.Coordinate, label string) (display.MarkerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.next + 1
	p := streaming.PlaceMarkerPayload{Handle: uint64(h), Lat: coord.Lat, Lng: coord.Lng, Label: label}
	if err := s.sendLocked(streaming.TypePlaceMarker, p); err != nil {
		return 0, err
	}
	s.next = h
	s.markers[h] = &marker{payload: p}
	return h, nil
}

// RemoveMarker implements display.MapSurface.
func (s *Surface) RemoveMarker(h display.MarkerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[h]; !ok {
		return fmt.Errorf("remove %d: %w", h, ErrUnknownMarker)
	}
	delete(s.markers, h)
	if s.popup != nil && s.popup.Handle == uint64(h) {
		s.popup = nil
	}
	return s.sendLocked(streaming.TypeRemoveMarker, streaming.MarkerPayload{Handle: uint64(h)})
}

// OnMarkerClick implements display.MapSurface.
func (s *Surface) OnMarkerClick(h display.MarkerHandle, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[h]
	if !ok {
		return fmt.Errorf("listen %d: %w", h, ErrUnknownMarker)
	}
	m.onClick = fn
	return nil
}

// ShowPopup implements display.MapSurface.
func (s *Surface) ShowPopup(h display.MarkerHandle, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[h]; !ok {
		return fmt.Errorf("show %d: %w", h, ErrUnknownMarker)
	}
	p := streaming.ShowPopupPayload{Handle: uint64(h), Content: content, MaxWidth: s.cfg.PopupMaxWidth}
	if err := s.sendLocked(streaming.TypeShowPopup, p); err != nil {
		return err
	}
	s.popup = &p
	return nil
}

// ClosePopup implements display.MapSurface.
func (s *Surface) ClosePopup(h display.MarkerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[h]; !ok {
		return fmt.Errorf("close %d: %w", h, ErrUnknownMarker)
	}
	if s.popup != nil && s.popup.Handle == uint64(h) {
		s.popup = nil
	}
	return s.sendLocked(streaming.TypeClosePopup, streaming.MarkerPayload{Handle: uint64(h)})
}

// FitBounds implements display.ViewportFitter.
func (s *Surface) FitBounds(env geom.Envelope) error {
	lo, hi, ok := env.MinMaxXYs()
	if !ok {
		return nil
	}
	p := streaming.FitBoundsPayload{South: lo.Y, West: lo.X, North: hi.Y, East: hi.X}
	if vp, ok := geo.FitZoom(env, s.cfg.Width, s.cfg.Height); ok {
		p.CenterLat, p.CenterLng, p.Zoom = vp.CenterLat, vp.CenterLng, vp.Zoom
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendLocked(streaming.TypeFitBounds, p); err != nil {
		return err
	}
	s.fit = &p
	return nil
}

// ShowSuggestions sends the autocomplete list.
func (s *Surface) ShowSuggestions(suggestions []core.Suggestion) {
	items := make([]streaming.SuggestionItem, len(suggestions))
	for i, sg := range suggestions {
		items[i] = streaming.SuggestionItem{Index: i, Label: sg.Label}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendLocked(streaming.TypeSuggestions, streaming.SuggestionsPayload{Items: items}); err != nil {
		s.logger.Warn("Failed to send suggestions", "error", err)
	}
}

// Notify shows msg on the page.
func (s *Surface) Notify(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendLocked(streaming.TypeNotify, streaming.NotifyPayload{Message: msg}); err != nil {
		s.logger.Warn("Failed to send notification", "error", err)
	}
}

// Click fires the click listener of h. The app calls it from the event loop
// when a marker_click arrives.
func (s *Surface) Click(h display.MarkerHandle) error {
	s.mu.Lock()
	m, ok := s.markers[h]
	var fn func()
	if ok {
		fn = m.onClick
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("click %d: %w", h, ErrUnknownMarker)
	}
	if fn != nil {
		fn()
	}
	return nil
}

// snapshot rebuilds the page: reset, every live marker, the last fit and
// the open popup.
func (s *Surface) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.conn.drain(); n > 0 {
		s.logger.Debug("Dropped queued messages superseded by replay", "count", n)
	}

	handles := make([]display.MarkerHandle, 0, len(s.markers))
	for h := range s.markers {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var out [][]byte
	add := func(msgType string, payload any) {
		if data, err := streaming.Marshal(msgType, payload); err == nil {
			out = append(out, data)
		}
	}
	add(streaming.TypeReset, s.resetPayload())
	for _, h := range handles {
		add(streaming.TypePlaceMarker, s.markers[h].payload)
	}
	if s.fit != nil {
		add(streaming.TypeFitBounds, *s.fit)
	}
	if s.popup != nil {
		add(streaming.TypeShowPopup, *s.popup)
	}
	return out
}

// receive turns an inbound frame into a dispatcher event.
func (s *Surface) receive(data []byte) {
	var env streaming.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Debug("Malformed inbound message", "raw", string(data))
		return
	}

	var ev dispatcher.Event
	switch env.Type {
	case streaming.TypeMarkerClick:
		var p streaming.MarkerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Debug("Malformed marker_click", "error", err)
			return
		}
		ev = dispatcher.Event{Command: CommandClick, Args: []string{strconv.FormatUint(p.Handle, 10)}}
	case streaming.TypeQuery:
		var p streaming.QueryPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Debug("Malformed query", "error", err)
			return
		}
		ev = dispatcher.Event{Command: CommandQuery, Args: []string{p.Text}}
	case streaming.TypeSelect:
		var p streaming.SelectPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Debug("Malformed select", "error", err)
			return
		}
		ev = dispatcher.Event{Command: CommandSelect, Args: []string{strconv.Itoa(p.Index)}}
	default:
		s.logger.Debug("Ignoring inbound message", "type", env.Type)
		return
	}

	if s.cfg.Inbound == nil {
		return
	}
	if _, err := s.cfg.Inbound(ev); err != nil {
		s.logger.Warn("Inbound event rejected", "command", ev.Command, "error", err)
	}
}
