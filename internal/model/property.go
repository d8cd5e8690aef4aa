package model

import "time"

// PropertyRecord is one candidate property returned by the upstream
// provider, normalized into flat path→value attributes. Records are owned by
// the response cache and are immutable after insertion; a refetch stores a
// fresh record rather than mutating the old one.
type PropertyRecord struct {
	ID          string         `json:"id"`
	Coordinates Location       `json:"coordinates"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// Attr returns the named attribute, reporting whether it is present.
func (p PropertyRecord) Attr(key string) (any, bool) {
	v, ok := p.Attributes[key]
	return v, ok
}

// FloatAttr returns the named attribute coerced to float64. JSON numbers
// decode as float64 already; ints appear when records are built in-process.
func (p PropertyRecord) FloatAttr(key string) (float64, bool) {
	v, ok := p.Attributes[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// TimeAttr returns the named attribute parsed as an RFC3339 timestamp or a
// bare date. Providers disagree on date formats, so both are accepted.
func (p PropertyRecord) TimeAttr(key string) (time.Time, bool) {
	v, ok := p.Attributes[key]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// ComparableCandidate is a scored candidate property. Raw attribute deltas
// are kept alongside the composite score so report generation can explain
// the ranking.
type ComparableCandidate struct {
	Property        PropertyRecord     `json:"property"`
	DistanceMeters  float64            `json:"distance_meters"`
	SimilarityScore float64            `json:"similarity_score"`
	AttributeDeltas map[string]float64 `json:"attribute_deltas,omitempty"`
}

// ExcludedCandidate records a candidate dropped by the mandatory-field
// policy, with the reason for the exclusion.
type ExcludedCandidate struct {
	PropertyID string `json:"property_id"`
	Reason     string `json:"reason"`
}
