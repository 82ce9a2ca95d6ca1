package relay

import (
	"encoding/json"
	"slices"

	"github.com/sfmovies/filmlocations/pkg/streaming"
)

// mapState keeps the frames a page needs to draw the current map when it
// joins after the engine has already started. Notifications are not kept.
type mapState struct {
	reset       []byte
	markers     map[uint64][]byte
	fit         []byte
	popup       []byte
	popupHandle uint64
	suggestions []byte
}

func handleOf(payload json.RawMessage) (uint64, bool) {
	var m streaming.MarkerPayload
	if err := json.Unmarshal(payload, &m); err != nil {
		return 0, false
	}
	return m.Handle, true
}

func (s *mapState) apply(env streaming.Envelope, frame []byte) {
	switch env.Type {
	case streaming.TypeReset:
		*s = mapState{reset: frame}
	case streaming.TypePlaceMarker:
		if h, ok := handleOf(env.Payload); ok {
			if s.markers == nil {
				s.markers = make(map[uint64][]byte)
			}
			s.markers[h] = frame
		}
	case streaming.TypeRemoveMarker:
		if h, ok := handleOf(env.Payload); ok {
			delete(s.markers, h)
			if s.popup != nil && s.popupHandle == h {
				s.popup = nil
			}
		}
	case streaming.TypeShowPopup:
		if h, ok := handleOf(env.Payload); ok {
			s.popup, s.popupHandle = frame, h
		}
	case streaming.TypeClosePopup:
		s.popup = nil
	case streaming.TypeFitBounds:
		s.fit = frame
	case streaming.TypeSuggestions:
		s.suggestions = frame
	}
}

// snapshot returns the frames in replay order. Markers go out by handle,
// which is their placement order.
func (s *mapState) snapshot() [][]byte {
	var frames [][]byte
	if s.reset != nil {
		frames = append(frames, s.reset)
	}
	handles := make([]uint64, 0, len(s.markers))
	for h := range s.markers {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	for _, h := range handles {
		frames = append(frames, s.markers[h])
	}
	for _, f := range [][]byte{s.fit, s.popup, s.suggestions} {
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames
}
