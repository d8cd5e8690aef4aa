package etl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/propscope/comp-engine/internal/config"
	"github.com/propscope/comp-engine/internal/meshblock"
	"github.com/propscope/comp-engine/internal/model"
	"github.com/propscope/comp-engine/internal/provider"
	"github.com/propscope/comp-engine/internal/ranker"
	"github.com/propscope/comp-engine/internal/retrieval"
	"github.com/propscope/comp-engine/internal/store"
)

var subjectLocation = model.Location{Lat: -37.8588, Lon: 145.1869}

func squareBlock(id string, category model.Category, dLat, dLon float64) meshblock.MeshBlock {
	lat := subjectLocation.Lat + dLat
	lon := subjectLocation.Lon + dLon
	const half = 0.001
	flat := []float64{
		lon - half, lat - half,
		lon + half, lat - half,
		lon + half, lat + half,
		lon - half, lat + half,
		lon - half, lat - half,
	}
	return meshblock.MeshBlock{
		ID:       id,
		Category: category,
		Suburb:   "Burwood East",
		Geometry: geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}),
	}
}

func testDataset() *meshblock.Dataset {
	return meshblock.NewDataset([]meshblock.MeshBlock{
		squareBlock("MB001", model.CategoryResidential, 0, 0),
		squareBlock("MB002", model.CategoryCommercial, 0.004, 0),
		squareBlock("MB003", model.CategoryParkland, 0.006, 0),
		squareBlock("MB004", model.CategoryEducation, 0, 0.005),
	})
}

func testWeights() config.WeightsConfig {
	return config.WeightsConfig{
		Beds: 0.20, Baths: 0.15, Cars: 0.10,
		LandArea: 0.15, Distance: 0.25, Recency: 0.15,
	}
}

type fixture struct {
	orchestrator *Orchestrator
	mock         *provider.MockProvider
	store        *store.SQLiteStore
}

func newFixture(t *testing.T, searcher provider.Searcher, dataset *meshblock.Dataset) *fixture {
	t.Helper()

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	mock, _ := searcher.(*provider.MockProvider)
	batcher := retrieval.NewBatcher(searcher, retrieval.NewCache(time.Minute), config.ProviderConfig{
		DefaultLimit: 1000,
		MaxPages:     50,
		MaxAttempts:  4,
	})
	classifier := meshblock.NewClassifier(dataset, 5)
	rk := ranker.New(config.RankerConfig{Weights: testWeights(), MaxComparables: 10})

	return &fixture{
		orchestrator: NewOrchestrator(batcher, classifier, rk, st, config.ClassifierConfig{BufferMeters: 1000, TopK: 5}),
		mock:         mock,
		store:        st,
	}
}

func testSubject() Subject {
	return Subject{
		ID:       "SUBJECT",
		Location: subjectLocation,
		Attributes: map[string]any{
			"beds": 3.0, "baths": 2.0, "cars": 1.0, "land_area": 600.0,
		},
	}
}

func testRequest() model.SearchRequest {
	return model.SearchRequest{Center: subjectLocation, RadiusMeters: 5000}
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	f := newFixture(t, provider.NewMockProvider(800, 200), testDataset())
	ctx := context.Background()

	artifact, err := f.orchestrator.Run(ctx, testSubject(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, model.RunStatusSuccess, artifact.Meta.Status)
	assert.NotEmpty(t, artifact.RunID)
	assert.NotEmpty(t, artifact.Fingerprint)

	// 800 properties over 200-record pages is four network calls but one
	// logical fetch.
	assert.Equal(t, 1, artifact.Meta.LogicalFetches)
	assert.Equal(t, 4, artifact.Meta.FetchCount)
	assert.Equal(t, 0, artifact.Meta.Retries)

	require.NotNil(t, artifact.RiskClassification)
	assert.Equal(t, 4, artifact.RiskClassification.TotalBlocks)
	assert.Len(t, artifact.RiskClassification.TopKNonResidential, 3)
	for i := 1; i < len(artifact.RiskClassification.TopKNonResidential); i++ {
		assert.LessOrEqual(t,
			artifact.RiskClassification.TopKNonResidential[i-1].DistanceMeters,
			artifact.RiskClassification.TopKNonResidential[i].DistanceMeters)
	}

	require.Len(t, artifact.Comparables, 10)
	for i := 1; i < len(artifact.Comparables); i++ {
		assert.GreaterOrEqual(t,
			artifact.Comparables[i-1].SimilarityScore,
			artifact.Comparables[i].SimilarityScore)
	}

	// The artifact round-trips through the store.
	stored, err := f.store.GetArtifact(ctx, artifact.RunID)
	require.NoError(t, err)
	assert.Equal(t, artifact.Fingerprint, stored.Fingerprint)
	assert.Len(t, stored.Comparables, 10)
}

func TestOrchestrator_SecondRunHitsCache(t *testing.T) {
	f := newFixture(t, provider.NewMockProvider(100, 0), testDataset())
	ctx := context.Background()

	first, err := f.orchestrator.Run(ctx, testSubject(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Meta.LogicalFetches)

	second, err := f.orchestrator.Run(ctx, testSubject(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Meta.LogicalFetches)
	assert.Equal(t, 0, second.Meta.FetchCount)
	assert.InDelta(t, 0.5, second.Meta.CacheHitRatio, 1e-9)

	assert.Equal(t, 1, f.mock.Calls, "cached run makes no upstream call")
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestOrchestrator_PartialWhenClassificationFails(t *testing.T) {
	// An empty polygon makes the spatial join fail while ranking still
	// completes.
	corrupt := meshblock.NewDataset([]meshblock.MeshBlock{
		{ID: "BAD", Category: model.CategoryCommercial, Geometry: geom.NewPolygon(geom.XY)},
	})
	f := newFixture(t, provider.NewMockProvider(100, 0), corrupt)
	ctx := context.Background()

	artifact, err := f.orchestrator.Run(ctx, testSubject(), testRequest())
	require.Error(t, err)

	var tErr *TransformError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "classify", tErr.Step)

	assert.Equal(t, model.RunStatusPartial, artifact.Meta.Status)
	assert.Nil(t, artifact.RiskClassification)
	assert.NotEmpty(t, artifact.Comparables)
	assert.Contains(t, artifact.Meta.Errors, "classify")

	stored, getErr := f.store.GetArtifact(ctx, artifact.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunStatusPartial, stored.Meta.Status)
}

type failingSearcher struct{}

func (failingSearcher) Search(ctx context.Context, q provider.Query) (*provider.Page, error) {
	return nil, context.DeadlineExceeded
}

func TestOrchestrator_FailedExtractStillLoadsArtifact(t *testing.T) {
	f := newFixture(t, failingSearcher{}, testDataset())
	ctx := context.Background()

	artifact, err := f.orchestrator.Run(ctx, testSubject(), testRequest())
	require.Error(t, err)

	var eErr *ExtractError
	require.ErrorAs(t, err, &eErr)

	assert.Equal(t, model.RunStatusFailed, artifact.Meta.Status)
	assert.Contains(t, artifact.Meta.Errors, "extract")
	assert.Empty(t, artifact.Comparables)

	stored, getErr := f.store.GetArtifact(ctx, artifact.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunStatusFailed, stored.Meta.Status)
}

// staticSearcher always returns the same single page.
type staticSearcher struct {
	page provider.Page
}

func (s staticSearcher) Search(ctx context.Context, q provider.Query) (*provider.Page, error) {
	page := s.page
	return &page, nil
}

func TestOrchestrator_EmptyPayloadFailsExtract(t *testing.T) {
	f := newFixture(t, staticSearcher{}, testDataset())
	ctx := context.Background()

	artifact, err := f.orchestrator.Run(ctx, testSubject(), testRequest())
	require.Error(t, err)

	var eErr *ExtractError
	require.ErrorAs(t, err, &eErr)

	assert.Equal(t, model.RunStatusFailed, artifact.Meta.Status)
	assert.Contains(t, artifact.Meta.Errors, "extract")
	assert.Empty(t, artifact.Comparables)

	stored, getErr := f.store.GetArtifact(ctx, artifact.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunStatusFailed, stored.Meta.Status)
}

func TestOrchestrator_MalformedRecordFailsExtract(t *testing.T) {
	searcher := staticSearcher{page: provider.Page{Properties: []provider.Property{
		{ID: "P1", Lat: subjectLocation.Lat, Lon: subjectLocation.Lon},
		{ID: "P2", Lat: 999, Lon: 0},
	}}}
	f := newFixture(t, searcher, testDataset())

	artifact, err := f.orchestrator.Run(context.Background(), testSubject(), testRequest())
	require.Error(t, err)

	var eErr *ExtractError
	require.ErrorAs(t, err, &eErr)
	assert.Equal(t, model.RunStatusFailed, artifact.Meta.Status)
	assert.Contains(t, artifact.Meta.Errors["extract"], "P2")
}

// capturingSearcher records every query before delegating.
type capturingSearcher struct {
	inner   provider.Searcher
	queries []provider.Query
}

func (s *capturingSearcher) Search(ctx context.Context, q provider.Query) (*provider.Page, error) {
	s.queries = append(s.queries, q)
	return s.inner.Search(ctx, q)
}

func TestOrchestrator_SearchCentersOnSubject(t *testing.T) {
	capture := &capturingSearcher{inner: provider.NewMockProvider(50, 0)}
	f := newFixture(t, capture, testDataset())

	// A center carried by the request is ignored; retrieval and distance
	// scoring both anchor on the subject.
	req := testRequest()
	req.Center = model.Location{Lat: 10, Lon: 10}

	artifact, err := f.orchestrator.Run(context.Background(), testSubject(), req)
	require.NoError(t, err)
	require.NotEmpty(t, capture.queries)
	assert.InDelta(t, subjectLocation.Lat, capture.queries[0].Lat, 1e-9)
	assert.InDelta(t, subjectLocation.Lon, capture.queries[0].Lon, 1e-9)
	assert.Equal(t, subjectLocation, artifact.Request.Center)
}

func TestOrchestrator_NullIslandSubject(t *testing.T) {
	f := newFixture(t, provider.NewMockProvider(50, 0), testDataset())

	// (0, 0) is a legitimate subject location, not an unset one.
	subject := Subject{ID: "ZERO", Location: model.Location{}}
	artifact, err := f.orchestrator.Run(context.Background(), subject, model.SearchRequest{RadiusMeters: 5000})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, artifact.Meta.Status)
	require.NotNil(t, artifact.RiskClassification)
	assert.Equal(t, 0, artifact.RiskClassification.TotalBlocks)
	assert.Equal(t, model.Location{}, artifact.Request.Center)
}

func TestOrchestrator_RetriesRecordedInMeta(t *testing.T) {
	flaky := &flakySearcher{failures: 2, inner: provider.NewMockProvider(50, 0)}
	f := newFixture(t, flaky, testDataset())

	artifact, err := f.orchestrator.Run(context.Background(), testSubject(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, artifact.Meta.Retries)
	assert.Equal(t, 3, artifact.Meta.FetchCount)
	assert.Equal(t, 1, artifact.Meta.LogicalFetches)
	assert.Equal(t, model.RunStatusSuccess, artifact.Meta.Status)
}

func TestRunner_DuplicateJobsCoalesce(t *testing.T) {
	mock := provider.NewMockProvider(100, 0)
	f := newFixture(t, mock, testDataset())
	runner := NewRunner(f.orchestrator, 4)

	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = Job{Subject: testSubject(), Request: testRequest()}
	}

	results, err := runner.RunAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, res := range results {
		require.NoError(t, res.Err, "job %d", i)
		require.NotNil(t, res.Artifact)
		assert.Equal(t, model.RunStatusSuccess, res.Artifact.Meta.Status)
	}
	assert.Equal(t, 1, mock.Calls, "identical requests share one upstream fetch")
}

func TestRunner_FailureIsolation(t *testing.T) {
	f := newFixture(t, provider.NewMockProvider(100, 0), testDataset())
	runner := NewRunner(f.orchestrator, 2)

	bad := Job{
		Subject: Subject{ID: "BAD", Location: model.Location{Lat: 200, Lon: 0}},
		Request: model.SearchRequest{RadiusMeters: 5000},
	}
	good := Job{Subject: testSubject(), Request: testRequest()}

	results, err := runner.RunAll(context.Background(), []Job{bad, good})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, model.RunStatusSuccess, results[1].Artifact.Meta.Status)
}

// flakySearcher fails its first n calls with a transient error, then
// delegates.
type flakySearcher struct {
	failures int
	calls    int
	inner    provider.Searcher
}

func (s *flakySearcher) Search(ctx context.Context, q provider.Query) (*provider.Page, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, context.DeadlineExceeded
	}
	return s.inner.Search(ctx, q)
}
