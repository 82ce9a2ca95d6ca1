package parser

import (
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/sfmovies/filmlocations/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser() *Parser {
	return NewParser(slog.Default())
}

func decodeRaw(t *testing.T, doc string) core.RawLocation {
	t.Helper()
	var raw core.RawLocation
	require.NoError(t, json.Unmarshal([]byte(doc), &raw))
	return raw
}

func TestNewParser(t *testing.T) {
	p := NewParser(nil)
	require.NotNil(t, p)
	assert.NotNil(t, p.logger)
}

func TestNormalize_DeadPool(t *testing.T) {
	p := newTestParser()
	raw := decodeRaw(t, `{"id":"a1","title":"The Dead Pool","release_year":"1988",
		"actor_1":"Clint Eastwood","actor_2":null,"lat":37.775471,"lng":-122.4037169}`)

	rec, err := p.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "a1", rec.ID)
	assert.Equal(t, "The Dead Pool", rec.Title)
	assert.Equal(t, "1988", rec.ReleaseYear)
	assert.Equal(t, "Clint Eastwood", rec.Actor(1))
	assert.Equal(t, "", rec.Actor(2))
	assert.Equal(t, "", rec.Actor(3))
	assert.Equal(t, "", rec.Writer)
	assert.Equal(t, "", rec.Director)
	assert.Equal(t, "", rec.Distributor)
	assert.Equal(t, "", rec.ProductionCompany)
	assert.Equal(t, "", rec.LocationText)
	assert.Equal(t, core.Coordinate{Lat: 37.775471, Lng: -122.4037169}, rec.Coordinate)
}

func TestNormalize_FalsyTextFields(t *testing.T) {
	p := newTestParser()
	raw := decodeRaw(t, `{"id":"x","title":0,"release_year":1958,"writer":false,
		"director":"","distributor":null,"lat":"37.8","lng":"-122.4"}`)

	rec, err := p.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "", rec.Title)
	assert.Equal(t, "1958", rec.ReleaseYear)
	assert.Equal(t, "", rec.Writer)
	assert.Equal(t, "", rec.Director)
	assert.Equal(t, "", rec.Distributor)
	assert.Equal(t, 37.8, rec.Coordinate.Lat)
	assert.Equal(t, -122.4, rec.Coordinate.Lng)
}

func TestNormalize_DerivesMissingID(t *testing.T) {
	p := newTestParser()
	raw := decodeRaw(t, `{"title":"Vertigo","release_year":"1958","locations":"Fort Point","lat":37.81,"lng":-122.47}`)

	rec, err := p.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, DeriveID("Vertigo", "1958", "Fort Point"), rec.ID)
	assert.Len(t, rec.ID, 32)
}

func TestDeriveID_Stable(t *testing.T) {
	a := DeriveID("Vertigo", "1958", "Fort Point")
	b := DeriveID("Vertigo", "1958", "Fort Point")
	c := DeriveID("Vertigo", "1958", "Mission Dolores")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNormalize_InvalidCoordinates(t *testing.T) {
	tests := []struct {
		name string
		raw  core.RawLocation
	}{
		{"missing both", core.RawLocation{ID: "1"}},
		{"missing lng", core.RawLocation{ID: "2", Lat: core.NumberOf(37)}},
		{"NaN lat", core.RawLocation{ID: "3", Lat: core.NumberOf(math.NaN()), Lng: core.NumberOf(1)}},
		{"infinite lng", core.RawLocation{ID: "4", Lat: core.NumberOf(1), Lng: core.NumberOf(math.Inf(1))}},
		{"lat out of range", core.RawLocation{ID: "5", Lat: core.NumberOf(120), Lng: core.NumberOf(1)}},
	}

	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Normalize(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidCoordinate)
		})
	}
}

func TestNormalize_NonNumericStringCoordinate(t *testing.T) {
	p := newTestParser()
	raw := decodeRaw(t, `{"id":"bad","lat":"north","lng":-122.4}`)

	_, err := p.Normalize(raw)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestNormalizeAll_DropsInvalidKeepsOrder(t *testing.T) {
	p := newTestParser()
	raws := []core.RawLocation{
		{ID: "a", Lat: core.NumberOf(37.7), Lng: core.NumberOf(-122.4)},
		{ID: "b"},
		{ID: "c", Lat: core.NumberOf(37.8), Lng: core.NumberOf(-122.5)},
		{ID: "a", Lat: core.NumberOf(37.9), Lng: core.NumberOf(-122.3)},
	}

	got := p.NormalizeAll(raws)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, "a", got[2].ID)
}

func TestDecode(t *testing.T) {
	p := newTestParser()
	doc := `[
		{"id":"a1","title":"The Dead Pool","lat":37.775471,"lng":-122.4037169},
		{"id":"a2","title":"No coordinates"},
		{"id":"a3","title":"Bullitt","lat":37.79,"lng":-122.41}
	]`

	got, err := p.Decode(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "a3", got[1].ID)
}

func TestDecode_BadRecordKeepsBatch(t *testing.T) {
	p := newTestParser()
	doc := `[
		{"id":"a1","title":"The Dead Pool","lat":37.775471,"lng":-122.4037169},
		{"id":"b2","title":{"x":1},"lat":37.79,"lng":-122.41},
		"Bullitt",
		{"id":"c3","actor_1":["Steve McQueen"],"lat":37.80,"lng":-122.42}
	]`

	got, err := p.Decode(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "The Dead Pool", got[0].Title)
	assert.Equal(t, "b2", got[1].ID)
	assert.Empty(t, got[1].Title)
	assert.Equal(t, "c3", got[2].ID)
	assert.Empty(t, got[2].Actors[0])
}

func TestDecode_Malformed(t *testing.T) {
	p := newTestParser()

	tests := []string{`not json`, `{"id":"a1"}`, `[{"id":`}
	for _, doc := range tests {
		_, err := p.Decode(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrDecode, doc)
	}
}

func TestDecode_Empty(t *testing.T) {
	p := newTestParser()
	got, err := p.Decode(strings.NewReader(`[]`))
	require.NoError(t, err)
	assert.Empty(t, got)
}
