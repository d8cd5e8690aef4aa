package model

import "fmt"

// SearchRequest describes one logical comparable-sales search around a
// subject property. Requests are immutable once issued; the batcher derives
// a fingerprint from the semantic parameters, so two requests that round to
// the same values are the same logical fetch.
type SearchRequest struct {
	Center       Location          `json:"center"`
	RadiusMeters float64           `json:"radius_meters"`
	Filters      map[string]string `json:"filters,omitempty"`

	// Fields selects the provider attributes to return. Empty means "all".
	Fields []string `json:"fields,omitempty"`

	Limit int `json:"limit"`
}

// ValidationError reports a malformed search request or boundary dataset
// record. It aborts the run before any upstream call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validate checks the request parameters. The radius must be positive and
// the center must be a real coordinate.
func (r SearchRequest) Validate() error {
	if !r.Center.Valid() {
		return &ValidationError{Field: "center", Reason: fmt.Sprintf("coordinates (%f, %f) outside WGS84 domain", r.Center.Lat, r.Center.Lon)}
	}
	if r.RadiusMeters <= 0 {
		return &ValidationError{Field: "radius_meters", Reason: "must be positive"}
	}
	if r.Limit < 0 {
		return &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	for k, v := range r.Filters {
		if k == "" {
			return &ValidationError{Field: "filters", Reason: "empty filter key"}
		}
		if v == "" {
			return &ValidationError{Field: "filters", Reason: fmt.Sprintf("empty value for filter %q", k)}
		}
	}
	return nil
}
