// Package model defines the core data types shared across the comparable
// retrieval and ranking engine: search requests, property records, risk
// classifications and the run artifact emitted for report generation.
package model

// Location is a geographic coordinate pair in WGS84 decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the location is inside the WGS84 domain.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}
