// Package provider defines the upstream property data source abstraction
// and its HTTP and mock implementations.
package provider

import (
	"context"
)

// Query is one upstream search call. Fields is the exact attribute set to
// request; an empty slice asks the provider for all attributes.
type Query struct {
	Lat          float64           `json:"lat"`
	Lon          float64           `json:"lon"`
	RadiusMeters float64           `json:"radius_meters"`
	Filters      map[string]string `json:"filters,omitempty"`
	Fields       []string          `json:"fields,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Page         int               `json:"page,omitempty"`
}

// Property is one raw upstream record.
type Property struct {
	ID         string         `json:"id"`
	Lat        float64        `json:"lat"`
	Lon        float64        `json:"lon"`
	Attributes map[string]any `json:"attributes"`
}

// Page is one page of search results. HasMore signals that the caller
// should request Page+1 to complete the result set.
type Page struct {
	Properties []Property `json:"properties"`
	Page       int        `json:"page"`
	HasMore    bool       `json:"has_more"`
}

// Searcher is the upstream property search contract. Implementations make
// exactly one network (or simulated) call per Search invocation; retry and
// pagination policy belong to the caller.
type Searcher interface {
	Search(ctx context.Context, q Query) (*Page, error)
}
