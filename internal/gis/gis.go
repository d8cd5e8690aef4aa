package gis

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/propscope/comp-engine/internal/model"
)

// DistanceMeters returns the Haversine distance between two geographic
// points. Consistent with projected planar distance to within ±1% for
// separations under 50 km.
func DistanceMeters(a, b model.Location) float64 {
	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLat := (b.Lat - a.Lat) * degToRad
	dLon := (b.Lon - a.Lon) * degToRad

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Buffer builds a circular buffer polygon of the given radius around a
// geographic point. The circle is constructed in the metric CRS and
// converted back to geographic coordinates.
func Buffer(center model.Location, radiusMeters float64, segments int) (*geom.Polygon, error) {
	if radiusMeters <= 0 {
		return nil, spatialErr("buffer", "radius %f must be positive", radiusMeters)
	}
	if segments < 8 {
		segments = 64
	}
	proj, err := NewProjection(center)
	if err != nil {
		return nil, err
	}

	// Closed ring: first point repeated at the end.
	flat := make([]float64, 0, (segments+1)*2)
	for i := 0; i <= segments; i++ {
		theta := 2 * math.Pi * float64(i%segments) / float64(segments)
		loc := proj.Inverse(radiusMeters*math.Cos(theta), radiusMeters*math.Sin(theta))
		flat = append(flat, loc.Lon, loc.Lat)
	}
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}), nil
}

// JoinPair is one polygon intersecting the search radius, with the
// precomputed point-to-polygon distance in meters (zero when the point lies
// inside the polygon).
type JoinPair struct {
	Index          int
	DistanceMeters float64
}

// WithinDistance joins a subject point against a set of polygons, returning
// the indices of polygons whose boundary or interior lies within
// radiusMeters of the point. Both sides are reprojected into the same local
// metric CRS before testing, so degree-based and metric coordinates are
// never mixed. Output order follows input order.
func WithinDistance(center model.Location, polygons []geom.T, radiusMeters float64) ([]JoinPair, error) {
	if radiusMeters <= 0 {
		return nil, spatialErr("within_distance", "radius %f must be positive", radiusMeters)
	}
	proj, err := NewProjection(center)
	if err != nil {
		return nil, err
	}
	px, py := proj.Forward(center)

	var pairs []JoinPair
	for i, poly := range polygons {
		metric, err := proj.ToMetric(poly)
		if err != nil {
			return nil, err
		}
		d, err := pointToGeometryMeters(px, py, metric)
		if err != nil {
			return nil, err
		}
		if d <= radiusMeters {
			pairs = append(pairs, JoinPair{Index: i, DistanceMeters: d})
		}
	}
	return pairs, nil
}

// Centroid returns the area-weighted centroid of a polygonal geometry in
// geographic coordinates. The computation runs in the metric CRS to avoid
// degree/meter mixing.
func Centroid(g geom.T) (model.Location, error) {
	if g == nil || len(g.FlatCoords()) == 0 {
		return model.Location{}, spatialErr("centroid", "nil or empty geometry")
	}

	// Anchor the projection at the first vertex; any nearby origin works.
	flat := g.FlatCoords()
	proj, err := NewProjection(model.Location{Lon: flat[0], Lat: flat[1]})
	if err != nil {
		return model.Location{}, err
	}
	metric, err := proj.ToMetric(g)
	if err != nil {
		return model.Location{}, err
	}

	var areaSum, cxSum, cySum float64
	for _, ring := range outerRings(metric) {
		a, cx, cy := ringCentroid(ring)
		areaSum += a
		cxSum += cx * a
		cySum += cy * a
	}
	if areaSum == 0 {
		// Degenerate polygon; fall back to the mean of the vertices.
		mx, my := meanVertex(metric.FlatCoords())
		return proj.Inverse(mx, my), nil
	}
	return proj.Inverse(cxSum/areaSum, cySum/areaSum), nil
}

// outerRings returns the exterior ring of each polygon in a Polygon or
// MultiPolygon as flat coordinate slices. Holes are ignored.
func outerRings(g geom.T) [][]float64 {
	switch s := g.(type) {
	case *geom.Polygon:
		if s.NumLinearRings() == 0 {
			return nil
		}
		return [][]float64{s.LinearRing(0).FlatCoords()}
	case *geom.MultiPolygon:
		rings := make([][]float64, 0, s.NumPolygons())
		for i := 0; i < s.NumPolygons(); i++ {
			p := s.Polygon(i)
			if p.NumLinearRings() > 0 {
				rings = append(rings, p.LinearRing(0).FlatCoords())
			}
		}
		return rings
	default:
		return nil
	}
}

// pointToGeometryMeters computes the distance from a metric point to a
// metric polygonal geometry: zero if the point is inside any exterior ring,
// otherwise the minimum distance to the ring edges.
func pointToGeometryMeters(px, py float64, g geom.T) (float64, error) {
	rings := outerRings(g)
	if len(rings) == 0 {
		return 0, spatialErr("point_to_geometry", "no polygon rings in %T", g)
	}

	min := math.MaxFloat64
	for _, ring := range rings {
		if pointInRing(px, py, ring) {
			return 0, nil
		}
		if d := pointToRingMeters(px, py, ring); d < min {
			min = d
		}
	}
	return min, nil
}

// pointInRing implements ray casting over a flat closed ring.
func pointInRing(px, py float64, ring []float64) bool {
	n := len(ring) / 2
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := ring[2*i], ring[2*i+1]
		xj, yj := ring[2*j], ring[2*j+1]
		if ((yi > py) != (yj > py)) && (px < (xj-xi)*(py-yi)/(yj-yi)+xi) {
			inside = !inside
		}
		j = i
	}
	return inside
}

// pointToRingMeters returns the minimum distance from a point to the edges
// of a flat ring.
func pointToRingMeters(px, py float64, ring []float64) float64 {
	n := len(ring) / 2
	if n == 1 {
		return math.Hypot(px-ring[0], py-ring[1])
	}
	min := math.MaxFloat64
	for i := 0; i < n-1; i++ {
		d := pointToSegment(px, py, ring[2*i], ring[2*i+1], ring[2*i+2], ring[2*i+3])
		if d < min {
			min = d
		}
	}
	return min
}

// pointToSegment returns the distance from point (px,py) to the segment
// (ax,ay)-(bx,by).
func pointToSegment(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}

func ringCentroid(ring []float64) (area, cx, cy float64) {
	n := len(ring) / 2
	for i := 0; i < n-1; i++ {
		x0, y0 := ring[2*i], ring[2*i+1]
		x1, y1 := ring[2*i+2], ring[2*i+3]
		cross := x0*y1 - x1*y0
		area += cross
		cx += (x0 + x1) * cross
		cy += (y0 + y1) * cross
	}
	area /= 2
	if area == 0 {
		return 0, 0, 0
	}
	cx /= 6 * area
	cy /= 6 * area
	return math.Abs(area), cx, cy
}

func meanVertex(flat []float64) (x, y float64) {
	n := len(flat) / 2
	if n == 0 {
		return 0, 0
	}
	for i := 0; i < n; i++ {
		x += flat[2*i]
		y += flat[2*i+1]
	}
	return x / float64(n), y / float64(n)
}
