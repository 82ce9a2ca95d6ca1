// pkg/core/location.go
package core

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ActorSlots is the number of actor columns a location carries.
const ActorSlots = 3

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationRecord is one normalized film-location result.
// Every text field is a string, possibly empty, never absent.
type LocationRecord struct {
	ID                string
	Title             string
	ReleaseYear       string
	Writer            string
	Director          string
	Distributor       string
	ProductionCompany string
	Actors            [ActorSlots]string
	LocationText      string
	Coordinate        Coordinate
}

// Actor returns the actor in the given 1-based slot, or "" when out of range.
func (r LocationRecord) Actor(slot int) string {
	if slot < 1 || slot > ActorSlots {
		return ""
	}
	return r.Actors[slot-1]
}

// Field returns a record field by its wire name. Unknown names yield "".
func (r LocationRecord) Field(name string) string {
	switch name {
	case "id":
		return r.ID
	case "title":
		return r.Title
	case "release_year":
		return r.ReleaseYear
	case "writer":
		return r.Writer
	case "director":
		return r.Director
	case "distributor":
		return r.Distributor
	case "production_company":
		return r.ProductionCompany
	case "actor_1":
		return r.Actors[0]
	case "actor_2":
		return r.Actors[1]
	case "actor_3":
		return r.Actors[2]
	case "locations":
		return r.LocationText
	}
	return ""
}

// ToRaw converts the record back into its wire shape.
func (r LocationRecord) ToRaw() RawLocation {
	return RawLocation{
		ID:                Text(r.ID),
		ReleaseYear:       Text(r.ReleaseYear),
		Title:             Text(r.Title),
		Writer:            Text(r.Writer),
		Actor1:            Text(r.Actors[0]),
		Actor2:            Text(r.Actors[1]),
		Actor3:            Text(r.Actors[2]),
		Locations:         Text(r.LocationText),
		Director:          Text(r.Director),
		Distributor:       Text(r.Distributor),
		ProductionCompany: Text(r.ProductionCompany),
		Lat:               NumberOf(r.Coordinate.Lat),
		Lng:               NumberOf(r.Coordinate.Lng),
	}
}

// RawLocation is a location object as exchanged with the location API.
type RawLocation struct {
	ID                Text   `json:"id"`
	ReleaseYear       Text   `json:"release_year"`
	Title             Text   `json:"title"`
	Writer            Text   `json:"writer"`
	Actor1            Text   `json:"actor_1"`
	Actor2            Text   `json:"actor_2"`
	Actor3            Text   `json:"actor_3"`
	Locations         Text   `json:"locations"`
	Director          Text   `json:"director"`
	Distributor       Text   `json:"distributor"`
	ProductionCompany Text   `json:"production_company"`
	Lat               Number `json:"lat"`
	Lng               Number `json:"lng"`
}

// Text is a lenient free-text field. It accepts JSON strings and numbers;
// null, false, 0, the empty string, objects and arrays all decode to "".
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")), bytes.Equal(b, []byte("false")):
		*t = ""
		return nil
	case bytes.Equal(b, []byte("true")):
		*t = "true"
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		*t = ""
		return nil
	}
	if f, err := n.Float64(); err == nil && f == 0 {
		*t = ""
		return nil
	}
	*t = Text(n.String())
	return nil
}

// Number is an optional numeric field. Set is false when the value was
// missing, null or not a number.
type Number struct {
	Value float64
	Set   bool
}

// NumberOf returns a set Number.
func NumberOf(v float64) Number {
	return Number{Value: v, Set: true}
}

// UnmarshalJSON implements json.Unmarshaler. Numeric strings are accepted.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		*n = NumberOf(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	*n = NumberOf(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Suggestion is one autocomplete entry carrying its full record.
type Suggestion struct {
	Label  string
	Record LocationRecord
}
