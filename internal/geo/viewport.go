package geo

import (
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
)

const (
	// TileSize is the pixel width of one web-mercator tile.
	TileSize = 256
	// MaxZoom is the deepest zoom level FitZoom returns.
	MaxZoom = 21
	// PointZoom is used when the envelope collapses to a single point.
	PointZoom = 16

	mercatorWorldWidth = 2 * math.Pi * 6378137
)

// Viewport is a map centre and zoom level.
type Viewport struct {
	CenterLat float64 `json:"centerLat"`
	CenterLng float64 `json:"centerLng"`
	Zoom      int     `json:"zoom"`
}

// FitZoom returns the deepest zoom at which env (EPSG:4326, X=lng, Y=lat)
// fits inside a widthPx x heightPx viewport, together with the envelope centre.
// ok is false for an empty envelope or a non-positive viewport.
func FitZoom(env geom.Envelope, widthPx, heightPx int) (Viewport, bool) {
	if env.IsEmpty() || widthPx <= 0 || heightPx <= 0 {
		return Viewport{}, false
	}
	lo, hi, ok := env.MinMaxXYs()
	if !ok {
		return Viewport{}, false
	}

	min3857, err := Coords3857From4326(lo.X, lo.Y)
	if err != nil {
		return Viewport{}, false
	}
	max3857, err := Coords3857From4326(hi.X, hi.Y)
	if err != nil {
		return Viewport{}, false
	}
	a, _ := min3857.Coordinates()
	b, _ := max3857.Coordinates()

	vp := Viewport{
		CenterLat: (lo.Y + hi.Y) / 2,
		CenterLng: (lo.X + hi.X) / 2,
	}

	dx := math.Abs(b.X - a.X)
	dy := math.Abs(b.Y - a.Y)
	if dx == 0 && dy == 0 {
		vp.Zoom = PointZoom
		return vp, true
	}

	scale := math.Inf(1)
	if dx > 0 {
		scale = math.Min(scale, float64(widthPx)*mercatorWorldWidth/(TileSize*dx))
	}
	if dy > 0 {
		scale = math.Min(scale, float64(heightPx)*mercatorWorldWidth/(TileSize*dy))
	}

	zoom := int(math.Floor(math.Log2(scale)))
	vp.Zoom = max(0, min(MaxZoom, zoom))
	return vp, true
}
