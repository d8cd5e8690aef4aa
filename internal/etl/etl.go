// Package etl orchestrates one comparable-analysis run: retrieval,
// classification and ranking, and artifact persistence.
package etl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propscope/comp-engine/internal/config"
	"github.com/propscope/comp-engine/internal/meshblock"
	"github.com/propscope/comp-engine/internal/model"
	"github.com/propscope/comp-engine/internal/ranker"
	"github.com/propscope/comp-engine/internal/retrieval"
	"github.com/propscope/comp-engine/internal/store"
)

// Subject is the property a run analyses: its location plus whatever
// profile attributes are known, used for similarity scoring.
type Subject struct {
	ID         string         `json:"id,omitempty"`
	Location   model.Location `json:"location"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Orchestrator runs the extract, transform and load stages for one
// subject. The two transform sub-steps fail independently: a run where
// exactly one of classification or ranking failed loads a partial
// artifact instead of aborting.
type Orchestrator struct {
	batcher    *retrieval.Batcher
	classifier *meshblock.Classifier
	ranker     *ranker.Ranker
	store      store.Store

	bufferMeters float64
	now          func() time.Time
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(
	batcher *retrieval.Batcher,
	classifier *meshblock.Classifier,
	rk *ranker.Ranker,
	st store.Store,
	cfg config.ClassifierConfig,
) *Orchestrator {
	buffer := cfg.BufferMeters
	if buffer <= 0 {
		buffer = 1000
	}
	return &Orchestrator{
		batcher:      batcher,
		classifier:   classifier,
		ranker:       rk,
		store:        st,
		bufferMeters: buffer,
		now:          time.Now,
	}
}

// Run executes one full pipeline pass and returns the loaded artifact.
// The search is always centered on the subject's location so that
// retrieval and distance scoring agree; any center carried by the
// request is overwritten. The artifact is persisted for every outcome,
// including failures, so a failed run still leaves an inspectable
// record. The returned error is non-nil whenever the run did not fully
// succeed.
func (o *Orchestrator) Run(ctx context.Context, subject Subject, req model.SearchRequest) (*model.RunArtifact, error) {
	started := o.now()
	runID := uuid.New().String()

	req.Center = subject.Location

	artifact := &model.RunArtifact{
		RunID:     runID,
		Request:   req,
		CreatedAt: started.UTC(),
		Meta:      model.RunMeta{Errors: map[string]string{}},
	}

	zap.L().Info("run started",
		zap.String("run_id", runID),
		zap.Float64("lat", req.Center.Lat),
		zap.Float64("lon", req.Center.Lon),
		zap.Float64("radius_m", req.RadiusMeters),
	)

	// EXTRACT
	result, cached, err := o.batcher.Fetch(ctx, req)
	if err != nil {
		return o.failExtract(ctx, artifact, started, err)
	}
	artifact.Fingerprint = result.Fingerprint
	if !cached {
		artifact.Meta.FetchCount = result.NetworkCalls
		artifact.Meta.LogicalFetches = 1
		artifact.Meta.Retries = result.Retries
	}
	if err := validatePayload(result.Properties); err != nil {
		return o.failExtract(ctx, artifact, started, err)
	}

	// TRANSFORM: classification and ranking are independent sub-steps.
	var transformErrs []error

	classification, err := o.classifier.Classify(subject.Location, o.bufferMeters)
	if err != nil {
		artifact.Meta.Errors["classify"] = err.Error()
		transformErrs = append(transformErrs, &TransformError{Step: "classify", Err: err})
	} else {
		artifact.RiskClassification = classification
	}

	subjectRecord := model.PropertyRecord{
		ID:          subject.ID,
		Coordinates: subject.Location,
		Attributes:  subject.Attributes,
	}
	comparables, excluded := o.ranker.Rank(subjectRecord, result.Properties, req.RadiusMeters)
	artifact.Comparables = comparables
	artifact.Excluded = excluded

	status := model.RunStatusSuccess
	if len(transformErrs) > 0 {
		status = model.RunStatusPartial
	}

	// LOAD
	if err := o.finish(ctx, artifact, status, started); err != nil {
		return artifact, err
	}

	zap.L().Info("run complete",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("comparables", len(comparables)),
		zap.Int("excluded", len(excluded)),
		zap.Int64("elapsed_ms", artifact.Meta.ElapsedMs),
	)

	if len(transformErrs) > 0 {
		return artifact, transformErrs[0]
	}
	return artifact, nil
}

// validatePayload rejects raw payloads the pipeline cannot analyse: an
// empty result set, or records missing an id or usable coordinates.
func validatePayload(props []model.PropertyRecord) error {
	if len(props) == 0 {
		return eris.New("etl: extracted payload contains no properties")
	}
	for i, p := range props {
		if p.ID == "" {
			return eris.Errorf("etl: extracted record %d has no id", i)
		}
		if !p.Coordinates.Valid() {
			return eris.Errorf("etl: extracted record %q has invalid coordinates", p.ID)
		}
	}
	return nil
}

// failExtract records the extract failure, persists the failed artifact
// and wraps the cause.
func (o *Orchestrator) failExtract(ctx context.Context, artifact *model.RunArtifact, started time.Time, err error) (*model.RunArtifact, error) {
	artifact.Meta.Errors["extract"] = err.Error()
	if loadErr := o.finish(ctx, artifact, model.RunStatusFailed, started); loadErr != nil {
		zap.L().Warn("failed run artifact not persisted",
			zap.String("run_id", artifact.RunID),
			zap.Error(loadErr),
		)
	}
	return artifact, &ExtractError{Err: err}
}

// finish stamps run metadata and persists the artifact.
func (o *Orchestrator) finish(ctx context.Context, artifact *model.RunArtifact, status model.RunStatus, started time.Time) error {
	artifact.Meta.Status = status
	artifact.Meta.ElapsedMs = o.now().Sub(started).Milliseconds()
	artifact.Meta.CacheHitRatio = o.batcher.CacheStats().HitRatio()
	if len(artifact.Meta.Errors) == 0 {
		artifact.Meta.Errors = nil
	}

	if o.store == nil {
		return nil
	}
	if err := o.store.SaveArtifact(ctx, artifact); err != nil {
		return &LoadError{RunID: artifact.RunID, Err: eris.Wrap(err, "save artifact")}
	}
	return nil
}
