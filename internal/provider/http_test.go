package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propscope/comp-engine/internal/config"
	"github.com/propscope/comp-engine/internal/resilience"
)

func newTestProvider(baseURL string) *HTTPProvider {
	return NewHTTPProvider(config.ProviderConfig{
		Name:        "http",
		BaseURL:     baseURL,
		Credential:  "test-token",
		TimeoutSecs: 5,
		RatePerSec:  100,
	})
}

func TestHTTPProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var q Query
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.InDelta(t, -37.8588, q.Lat, 1e-9)
		assert.InDelta(t, 5000.0, q.RadiusMeters, 1e-9)

		_ = json.NewEncoder(w).Encode(Page{
			Properties: []Property{
				{ID: "P1", Lat: -37.85, Lon: 145.19, Attributes: map[string]any{"beds": 3.0}},
			},
			Page:    0,
			HasMore: false,
		})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	page, err := p.Search(context.Background(), Query{Lat: -37.8588, Lon: 145.1869, RadiusMeters: 5000})
	require.NoError(t, err)
	require.Len(t, page.Properties, 1)
	assert.Equal(t, "P1", page.Properties[0].ID)
	assert.False(t, page.HasMore)
}

func TestHTTPProvider_TransientStatuses(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 504} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		p := newTestProvider(srv.URL)
		_, err := p.Search(context.Background(), Query{Lat: 0, Lon: 0, RadiusMeters: 100})
		srv.Close()

		require.Error(t, err, "status %d", status)
		assert.True(t, resilience.IsTransient(err), "status %d should be transient", status)

		var te *resilience.TransientError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, status, te.StatusCode)
	}
}

func TestHTTPProvider_PermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad filter", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Search(context.Background(), Query{Lat: 0, Lon: 0, RadiusMeters: 100})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestHTTPProvider_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestProvider(srv.URL)
	_, err := p.Search(ctx, Query{Lat: 0, Lon: 0, RadiusMeters: 100})
	require.Error(t, err)
}

func TestNewHTTPProvider_FractionalRateKeepsBurst(t *testing.T) {
	// A sub-1/s rate must not truncate the burst to zero, which would
	// block every request at the limiter.
	p := NewHTTPProvider(config.ProviderConfig{RatePerSec: 0.5})
	assert.GreaterOrEqual(t, p.limiter.Burst(), 1)

	p = NewHTTPProvider(config.ProviderConfig{RatePerSec: 10})
	assert.Equal(t, 10, p.limiter.Burst())
}

func TestMockProvider_Deterministic(t *testing.T) {
	q := Query{Lat: -37.8588, Lon: 145.1869, RadiusMeters: 5000}

	a, err := NewMockProvider(50, 0).Search(context.Background(), q)
	require.NoError(t, err)
	b, err := NewMockProvider(50, 0).Search(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, a.Properties, b.Properties)
}

func TestMockProvider_Pagination(t *testing.T) {
	m := NewMockProvider(25, 10)
	q := Query{Lat: -37.8588, Lon: 145.1869, RadiusMeters: 5000}

	var all []Property
	page := 0
	for {
		q.Page = page
		p, err := m.Search(context.Background(), q)
		require.NoError(t, err)
		all = append(all, p.Properties...)
		if !p.HasMore {
			break
		}
		page++
	}

	assert.Len(t, all, 25)
	assert.Equal(t, 3, m.Calls)
}
