// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"

	"github.com/sfmovies/filmlocations/internal/geo"
	"github.com/sfmovies/filmlocations/internal/model"
	"github.com/sfmovies/filmlocations/pkg/core"
	"gorm.io/datatypes"
)

// extraToJSON encodes source-only fields; nil or empty maps become "{}".
func extraToJSON(extra map[string]string) datatypes.JSON {
	if len(extra) == 0 {
		return datatypes.JSON("{}")
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}

// CoreToLocation converts a core.LocationRecord to a GORM model.Location.
func CoreToLocation(r core.LocationRecord, extra map[string]string) model.Location {
	return model.Location{
		ID:                r.ID,
		Title:             r.Title,
		ReleaseYear:       r.ReleaseYear,
		Writer:            r.Writer,
		Director:          r.Director,
		Distributor:       r.Distributor,
		ProductionCompany: r.ProductionCompany,
		Actor1:            r.Actors[0],
		Actor2:            r.Actors[1],
		Actor3:            r.Actors[2],
		Locations:         r.LocationText,
		Latitude:          r.Coordinate.Lat,
		Longitude:         r.Coordinate.Lng,
		Position:          geo.PointFromCoordinate(r.Coordinate),
		Extra:             extraToJSON(extra),
	}
}

// LocationToCore converts a GORM model.Location to a core.LocationRecord.
// The lat/lng columns are authoritative; Position is derived from them.
func LocationToCore(m model.Location) core.LocationRecord {
	return core.LocationRecord{
		ID:                m.ID,
		Title:             m.Title,
		ReleaseYear:       m.ReleaseYear,
		Writer:            m.Writer,
		Director:          m.Director,
		Distributor:       m.Distributor,
		ProductionCompany: m.ProductionCompany,
		Actors:            [core.ActorSlots]string{m.Actor1, m.Actor2, m.Actor3},
		LocationText:      m.Locations,
		Coordinate:        core.Coordinate{Lat: m.Latitude, Lng: m.Longitude},
	}
}

// LocationsToCore converts a slice of rows, preserving order.
func LocationsToCore(rows []model.Location) []core.LocationRecord {
	out := make([]core.LocationRecord, len(rows))
	for i, r := range rows {
		out[i] = LocationToCore(r)
	}
	return out
}
