// Package gis provides CRS-safe geometric primitives for the classifier and
// ranker: a local metric projection, geodesic distance, buffering and a
// within-distance spatial join. All distances it returns are meters; inputs
// are WGS84 decimal degrees.
package gis

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/propscope/comp-engine/internal/model"
)

const (
	// earthRadiusM is the WGS84 mean earth radius.
	earthRadiusM = 6371008.8

	// maxProjectableLat bounds the local projection. Beyond this the
	// cos(lat) scale factor degenerates.
	maxProjectableLat = 89.9

	degToRad = math.Pi / 180
)

// ClampLatitude clamps a latitude into the projectable range. Values inside
// the range pass through unchanged, so normal inputs are never altered.
func ClampLatitude(lat float64) float64 {
	if lat > maxProjectableLat {
		return maxProjectableLat
	}
	if lat < -maxProjectableLat {
		return -maxProjectableLat
	}
	return lat
}

// Projection is a local equirectangular projection centered on a reference
// point. Within ~50 km of the origin the planar distance error stays well
// under 1%, which is what the classifier and ranker need; geodesic
// distances use Haversine instead.
type Projection struct {
	origin  model.Location
	cosLat0 float64
}

// NewProjection builds a projection centered on origin. The origin latitude
// is clamped to the projectable range.
func NewProjection(origin model.Location) (*Projection, error) {
	if !origin.Valid() {
		return nil, spatialErr("projection", "origin (%f, %f) outside WGS84 domain", origin.Lat, origin.Lon)
	}
	lat0 := ClampLatitude(origin.Lat)
	return &Projection{
		origin:  model.Location{Lat: lat0, Lon: origin.Lon},
		cosLat0: math.Cos(lat0 * degToRad),
	}, nil
}

// Forward projects a geographic coordinate to local metric x/y in meters.
func (p *Projection) Forward(loc model.Location) (x, y float64) {
	x = earthRadiusM * (loc.Lon - p.origin.Lon) * degToRad * p.cosLat0
	y = earthRadiusM * (loc.Lat - p.origin.Lat) * degToRad
	return x, y
}

// Inverse converts local metric x/y back to a geographic coordinate.
func (p *Projection) Inverse(x, y float64) model.Location {
	return model.Location{
		Lat: p.origin.Lat + y/(earthRadiusM*degToRad),
		Lon: p.origin.Lon + x/(earthRadiusM*degToRad*p.cosLat0),
	}
}

// ToMetric reprojects a geographic geometry into the projection's metric
// plane. Supported types: Point, Polygon, MultiPolygon. Empty or nil
// geometries fail with a SpatialOperationError.
func (p *Projection) ToMetric(g geom.T) (geom.T, error) {
	if g == nil {
		return nil, spatialErr("to_metric", "nil geometry")
	}
	if len(g.FlatCoords()) == 0 {
		return nil, spatialErr("to_metric", "empty geometry")
	}
	if g.Layout() != geom.XY {
		return nil, spatialErr("to_metric", "unsupported layout %v", g.Layout())
	}

	flat := projectFlat(g.FlatCoords(), p.Forward)

	switch s := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(geom.XY, flat), nil
	case *geom.Polygon:
		ends := make([]int, len(s.Ends()))
		copy(ends, s.Ends())
		return geom.NewPolygonFlat(geom.XY, flat, ends), nil
	case *geom.MultiPolygon:
		srcEndss := s.Endss()
		endss := make([][]int, len(srcEndss))
		for i, ends := range srcEndss {
			endss[i] = make([]int, len(ends))
			copy(endss[i], ends)
		}
		return geom.NewMultiPolygonFlat(geom.XY, flat, endss), nil
	default:
		return nil, spatialErr("to_metric", "unsupported geometry type %T", g)
	}
}

// projectFlat applies fn to every x/y pair of a flat coordinate slice.
// Geometry coordinates are stored lon/lat order.
func projectFlat(src []float64, fn func(model.Location) (float64, float64)) []float64 {
	dst := make([]float64, len(src))
	for i := 0; i+1 < len(src); i += 2 {
		x, y := fn(model.Location{Lon: src[i], Lat: src[i+1]})
		dst[i] = x
		dst[i+1] = y
	}
	return dst
}
