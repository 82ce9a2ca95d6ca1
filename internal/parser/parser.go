// Package parser turns raw location objects from the wire into normalized
// LocationRecords.
package parser

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sfmovies/filmlocations/internal/geo"
	"github.com/sfmovies/filmlocations/pkg/core"
)

var (
	// ErrInvalidCoordinate is returned for records whose lat/lng are missing,
	// non-finite or out of range.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrDecode is returned when a location document is not a JSON array of objects.
	ErrDecode = errors.New("malformed location document")
)

// Parser normalizes raw locations. It only logs; it holds no state.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. A nil logger falls back to slog.Default.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// DeriveID builds the stable id of a location from its natural key.
func DeriveID(title, releaseYear, locations string) string {
	sum := md5.Sum([]byte(title + ":" + releaseYear + ":" + locations))
	return hex.EncodeToString(sum[:])
}

// Normalize maps raw into a LocationRecord. Text fields are already
// empty-string normalized by core.Text; the coordinate is validated here.
func (p *Parser) Normalize(raw core.RawLocation) (core.LocationRecord, error) {
	rec := core.LocationRecord{
		ID:                string(raw.ID),
		Title:             string(raw.Title),
		ReleaseYear:       string(raw.ReleaseYear),
		Writer:            string(raw.Writer),
		Director:          string(raw.Director),
		Distributor:       string(raw.Distributor),
		ProductionCompany: string(raw.ProductionCompany),
		Actors:            [core.ActorSlots]string{string(raw.Actor1), string(raw.Actor2), string(raw.Actor3)},
		LocationText:      string(raw.Locations),
	}
	if rec.ID == "" {
		rec.ID = DeriveID(rec.Title, rec.ReleaseYear, rec.LocationText)
	}

	if !raw.Lat.Set || !raw.Lng.Set {
		return rec, fmt.Errorf("location %s: %w: missing lat/lng", rec.ID, ErrInvalidCoordinate)
	}
	rec.Coordinate = core.Coordinate{Lat: raw.Lat.Value, Lng: raw.Lng.Value}
	if !geo.ValidCoordinate(rec.Coordinate) {
		return rec, fmt.Errorf("location %s: %w: (%v, %v)", rec.ID, ErrInvalidCoordinate, raw.Lat.Value, raw.Lng.Value)
	}
	return rec, nil
}

// NormalizeAll normalizes every raw location, dropping invalid ones.
// Order is preserved.
func (p *Parser) NormalizeAll(raws []core.RawLocation) []core.LocationRecord {
	out := make([]core.LocationRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := p.Normalize(raw)
		if err != nil {
			p.logger.Debug("dropping location", "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// DecodeRaw reads a JSON array of raw locations. Only a document that is not
// an array fails; elements that are not location objects are dropped.
func (p *Parser) DecodeRaw(r io.Reader) ([]core.RawLocation, error) {
	var docs []json.RawMessage
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	raws := make([]core.RawLocation, 0, len(docs))
	for i, doc := range docs {
		var raw core.RawLocation
		if err := json.Unmarshal(doc, &raw); err != nil {
			p.logger.Debug("dropping location", "index", i, "error", err)
			continue
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// Decode reads a JSON array of raw locations and normalizes it.
func (p *Parser) Decode(r io.Reader) ([]core.LocationRecord, error) {
	raws, err := p.DecodeRaw(r)
	if err != nil {
		return nil, err
	}
	return p.NormalizeAll(raws), nil
}
