package geo

import (
	"errors"
	"math"

	"github.com/sfmovies/filmlocations/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Points are kept in EPSG:4326 on records and projected to EPSG:3857 for
// storage and viewport math. Geometry is stored as WKB through gorm.

// EarthRadiusKm is the mean earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ValidCoordinate reports whether c is finite and within WGS84 bounds.
func ValidCoordinate(c core.Coordinate) bool {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Distance returns the great-circle distance between a and b in kilometres,
// using the spherical law of cosines.
func Distance(a, b core.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	cos := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(dLng)
	// rounding can push identical points slightly past 1
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * EarthRadiusKm
}

// Within reports whether c lies at most maxKm from center.
func Within(center, c core.Coordinate, maxKm float64) bool {
	return Distance(center, c) <= maxKm
}

// Coords3857From4326 creates a GPS point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if !ValidCoordinate(core.Coordinate{Lat: latitude, Lng: longitude}) {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}})
}

// PointFromCoordinate returns an EPSG:4326 point with X=lng, Y=lat. A
// non-finite coordinate yields an empty point.
func PointFromCoordinate(c core.Coordinate) geom.Point {
	p, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: c.Lng, Y: c.Lat}})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY)
	}
	return p
}

// CoordinateFromPoint is the inverse of PointFromCoordinate.
func CoordinateFromPoint(p geom.Point) (core.Coordinate, error) {
	c, ok := p.Coordinates()
	if !ok {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	return core.Coordinate{Lat: c.Y, Lng: c.X}, nil
}

// Bounds returns the EPSG:4326 envelope (X=lng, Y=lat) of the given
// coordinates. The envelope is empty when coords is empty; coordinates
// that are not finite are skipped.
func Bounds(coords []core.Coordinate) geom.Envelope {
	var env geom.Envelope
	for _, c := range coords {
		next, err := env.ExtendToIncludeXY(geom.XY{X: c.Lng, Y: c.Lat})
		if err != nil {
			continue
		}
		env = next
	}
	return env
}
