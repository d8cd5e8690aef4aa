package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propscope/comp-engine/internal/config"
	"github.com/propscope/comp-engine/internal/model"
	"github.com/propscope/comp-engine/internal/provider"
	"github.com/propscope/comp-engine/internal/resilience"
)

// scriptedSearcher replays a fixed sequence of responses, one per call.
type scriptedSearcher struct {
	calls     int
	responses []func(q provider.Query) (*provider.Page, error)
	queries   []provider.Query
}

func (s *scriptedSearcher) Search(ctx context.Context, q provider.Query) (*provider.Page, error) {
	s.queries = append(s.queries, q)
	if s.calls >= len(s.responses) {
		return nil, eris.Errorf("unexpected call %d", s.calls)
	}
	fn := s.responses[s.calls]
	s.calls++
	return fn(q)
}

func okPage(page int, hasMore bool, ids ...string) func(provider.Query) (*provider.Page, error) {
	return func(q provider.Query) (*provider.Page, error) {
		props := make([]provider.Property, len(ids))
		for i, id := range ids {
			props[i] = provider.Property{ID: id, Lat: -37.85, Lon: 145.19, Attributes: map[string]any{"beds": 3.0}}
		}
		return &provider.Page{Properties: props, Page: page, HasMore: hasMore}, nil
	}
}

func transientFailure() func(provider.Query) (*provider.Page, error) {
	return func(q provider.Query) (*provider.Page, error) {
		return nil, resilience.NewTransientError(eris.New("rate limited"), 429)
	}
}

func testBatcher(s provider.Searcher, cfg config.ProviderConfig) *Batcher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 4
	}
	b := NewBatcher(s, NewCache(time.Minute), cfg)
	// Keep retries fast in tests.
	b.retry.InitialBackoff = time.Millisecond
	b.retry.JitterFraction = 0
	return b
}

func testRequest() model.SearchRequest {
	return model.SearchRequest{
		Center:       model.Location{Lat: -37.8588, Lon: 145.1869},
		RadiusMeters: 5000,
	}
}

func TestBatcher_SinglePage(t *testing.T) {
	s := &scriptedSearcher{responses: []func(provider.Query) (*provider.Page, error){
		okPage(0, false, "P1", "P2", "P3"),
	}}
	b := testBatcher(s, config.ProviderConfig{DefaultLimit: 1000, MaxPages: 10})

	res, cached, err := b.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, res.Properties, 3)
	assert.Equal(t, 1, res.NetworkCalls)
	assert.Equal(t, 0, res.Retries)
	assert.Equal(t, "P1", res.Properties[0].ID)
	assert.False(t, res.Properties[0].FetchedAt.IsZero())
}

func TestBatcher_PaginationMergesAsOneLogicalFetch(t *testing.T) {
	s := &scriptedSearcher{responses: []func(provider.Query) (*provider.Page, error){
		okPage(0, true, "P1", "P2"),
		okPage(1, true, "P3", "P4"),
		okPage(2, false, "P4", "P5"), // P4 repeats across the boundary
	}}
	b := testBatcher(s, config.ProviderConfig{DefaultLimit: 1000, MaxPages: 10})

	res, _, err := b.Fetch(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 3, res.NetworkCalls)
	ids := make([]string, len(res.Properties))
	for i, p := range res.Properties {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"P1", "P2", "P3", "P4", "P5"}, ids, "pages merge with duplicates dropped")

	// Sequential page numbers were requested.
	require.Len(t, s.queries, 3)
	for i, q := range s.queries {
		assert.Equal(t, i, q.Page)
	}
}

func TestBatcher_RetriesTransientThenSucceeds(t *testing.T) {
	s := &scriptedSearcher{responses: []func(provider.Query) (*provider.Page, error){
		transientFailure(),
		transientFailure(),
		okPage(0, false, "P1"),
	}}
	b := testBatcher(s, config.ProviderConfig{DefaultLimit: 1000, MaxPages: 10, MaxAttempts: 4})

	res, _, err := b.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, res.NetworkCalls)
	assert.Equal(t, 2, res.Retries)
	assert.Len(t, res.Properties, 1)
}

func TestBatcher_ExhaustedRetriesFailTheFetch(t *testing.T) {
	s := &scriptedSearcher{responses: []func(provider.Query) (*provider.Page, error){
		transientFailure(), transientFailure(), transientFailure(),
	}}
	b := testBatcher(s, config.ProviderConfig{DefaultLimit: 1000, MaxPages: 10, MaxAttempts: 3})

	_, _, err := b.Fetch(context.Background(), testRequest())
	require.Error(t, err)

	var rErr *RetrievalError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, 3, rErr.Attempts)
	assert.Equal(t, 0, rErr.Page)
}

func TestBatcher_SecondFetchServedFromCache(t *testing.T) {
	s := &scriptedSearcher{responses: []func(provider.Query) (*provider.Page, error){
		okPage(0, false, "P1"),
	}}
	b := testBatcher(s, config.ProviderConfig{DefaultLimit: 1000, MaxPages: 10})

	first, cached, err := b.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, cached)

	second, cached, err := b.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Same(t, first, second)
	assert.Equal(t, 1, s.calls, "cache hit makes no upstream call")
}

func TestBatcher_FieldUnionWidensRequest(t *testing.T) {
	s := &scriptedSearcher{responses: []func(provider.Query) (*provider.Page, error){
		okPage(0, false, "P1"),
	}}
	b := testBatcher(s, config.ProviderConfig{
		DefaultLimit:   1000,
		MaxPages:       10,
		RequiredFields: []string{"beds", "baths", "sale_date"},
	})

	req := testRequest()
	req.Fields = []string{"land_area", "beds"}
	_, _, err := b.Fetch(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, s.queries, 1)
	assert.Equal(t, []string{"baths", "beds", "land_area", "sale_date"}, s.queries[0].Fields)
}

func TestBatcher_EmptyFieldsStayEmpty(t *testing.T) {
	s := &scriptedSearcher{responses: []func(provider.Query) (*provider.Page, error){
		okPage(0, false, "P1"),
	}}
	b := testBatcher(s, config.ProviderConfig{
		DefaultLimit:   1000,
		MaxPages:       10,
		RequiredFields: []string{"beds"},
	})

	_, _, err := b.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	require.Len(t, s.queries, 1)
	assert.Empty(t, s.queries[0].Fields, "empty field set already requests everything")
}

func TestBatcher_RejectsInvalidRequest(t *testing.T) {
	b := testBatcher(&scriptedSearcher{}, config.ProviderConfig{DefaultLimit: 1000})

	req := testRequest()
	req.RadiusMeters = -1
	_, _, err := b.Fetch(context.Background(), req)
	require.Error(t, err)

	var vErr *model.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestBatcher_FlattensNestedAttributes(t *testing.T) {
	s := &scriptedSearcher{responses: []func(provider.Query) (*provider.Page, error){
		func(q provider.Query) (*provider.Page, error) {
			return &provider.Page{Properties: []provider.Property{{
				ID: "P1", Lat: -37.85, Lon: 145.19,
				Attributes: map[string]any{
					"beds":    3.0,
					"address": map[string]any{"suburb": "Burwood East"},
				},
			}}}, nil
		},
	}}
	b := testBatcher(s, config.ProviderConfig{DefaultLimit: 1000, MaxPages: 10})

	res, _, err := b.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	require.Len(t, res.Properties, 1)
	assert.Equal(t, "Burwood East", res.Properties[0].Attributes["address.suburb"])
	assert.Equal(t, 3.0, res.Properties[0].Attributes["beds"])
}

func TestBatcher_LimitTruncates(t *testing.T) {
	ids := make([]string, 30)
	for i := range ids {
		ids[i] = fmt.Sprintf("P%02d", i)
	}
	s := &scriptedSearcher{responses: []func(provider.Query) (*provider.Page, error){
		okPage(0, false, ids...),
	}}
	b := testBatcher(s, config.ProviderConfig{DefaultLimit: 1000, MaxPages: 10})

	req := testRequest()
	req.Limit = 10
	res, _, err := b.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Properties, 10)
}
