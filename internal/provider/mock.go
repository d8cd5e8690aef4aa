package provider

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// MockProvider generates a deterministic synthetic property set around the
// query center. The same query always yields the same records, so cached
// and fresh runs compare equal. Useful for local runs and pipeline tests
// without upstream credentials.
type MockProvider struct {
	// Count is the total number of properties generated per search.
	Count int

	// PageSize bounds page length; zero means everything in one page.
	PageSize int

	// Calls counts Search invocations, for tests.
	Calls int
}

// NewMockProvider returns a mock with the given population size.
func NewMockProvider(count, pageSize int) *MockProvider {
	if count <= 0 {
		count = 800
	}
	return &MockProvider{Count: count, PageSize: pageSize}
}

// Search synthesizes properties scattered inside the query radius. The
// generator is seeded from the query center so results are reproducible.
func (m *MockProvider) Search(ctx context.Context, q Query) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.Calls++

	seed := uint64(math.Float64bits(q.Lat)) ^ uint64(math.Float64bits(q.Lon))<<1
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	all := make([]Property, 0, m.Count)
	for i := 0; i < m.Count; i++ {
		// Uniform scatter inside the disc, in degrees.
		radiusDeg := q.RadiusMeters / 111194.9 * math.Sqrt(rng.Float64())
		theta := rng.Float64() * 2 * math.Pi

		daysAgo := rng.IntN(720)
		saleDate := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -daysAgo)

		all = append(all, Property{
			ID:  fmt.Sprintf("PROP%06d", i+1),
			Lat: q.Lat + radiusDeg*math.Sin(theta),
			Lon: q.Lon + radiusDeg*math.Cos(theta)/math.Cos(q.Lat*math.Pi/180),
			Attributes: map[string]any{
				"beds":      float64(1 + rng.IntN(5)),
				"baths":     float64(1 + rng.IntN(3)),
				"cars":      float64(rng.IntN(3)),
				"land_area": 200 + rng.Float64()*800,
				"sale_date": saleDate.Format("2006-01-02"),
				"type":      "house",
			},
		})
	}

	if q.Limit > 0 && q.Limit < len(all) {
		all = all[:q.Limit]
	}

	if m.PageSize <= 0 || m.PageSize >= len(all) {
		return &Page{Properties: all, Page: q.Page, HasMore: false}, nil
	}

	start := q.Page * m.PageSize
	if start >= len(all) {
		return &Page{Properties: []Property{}, Page: q.Page, HasMore: false}, nil
	}
	end := start + m.PageSize
	if end > len(all) {
		end = len(all)
	}
	return &Page{
		Properties: all[start:end],
		Page:       q.Page,
		HasMore:    end < len(all),
	}, nil
}
