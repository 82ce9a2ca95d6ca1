package streaming

import (
	"encoding/json"
)

// Outbound message types, sent from the client engine to the map page.
const (
	TypeReset        = "reset"
	TypePlaceMarker  = "place_marker"
	TypeRemoveMarker = "remove_marker"
	TypeShowPopup    = "show_popup"
	TypeClosePopup   = "close_popup"
	TypeFitBounds    = "fit_bounds"
	TypeSuggestions  = "suggestions"
	TypeNotify       = "notify"
)

// Inbound message types, sent from the map page.
const (
	TypeMarkerClick = "marker_click"
	TypeQuery       = "query"
	TypeSelect      = "select"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResetPayload tells the page to drop all markers and centre the map.
type ResetPayload struct {
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	Zoom      int     `json:"zoom"`
}

// PlaceMarkerPayload adds a marker.
type PlaceMarkerPayload struct {
	Handle uint64  `json:"handle"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Label  string  `json:"label"`
}

// MarkerPayload references a marker by handle.
type MarkerPayload struct {
	Handle uint64 `json:"handle"`
}

// ShowPopupPayload opens a popup with rendered HTML content.
type ShowPopupPayload struct {
	Handle   uint64 `json:"handle"`
	Content  string `json:"content"`
	MaxWidth int    `json:"max_width"`
}

// FitBoundsPayload zooms the map to a lat/lng box.
type FitBoundsPayload struct {
	South     float64 `json:"south"`
	West      float64 `json:"west"`
	North     float64 `json:"north"`
	East      float64 `json:"east"`
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	Zoom      int     `json:"zoom"`
}

// SuggestionItem is one autocomplete entry. Index is the value sent back
// in a select message.
type SuggestionItem struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// SuggestionsPayload replaces the autocomplete list.
type SuggestionsPayload struct {
	Items []SuggestionItem `json:"items"`
}

// NotifyPayload shows a message to the user.
type NotifyPayload struct {
	Message string `json:"message"`
}

// QueryPayload carries the search box text.
type QueryPayload struct {
	Text string `json:"text"`
}

// SelectPayload picks a suggestion by index.
type SelectPayload struct {
	Index int `json:"index"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
// A nil payload is omitted.
func Marshal(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
