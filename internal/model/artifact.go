package model

import "time"

// RunStatus is the outcome of one ETL run.
type RunStatus string

// Run statuses. Partial means one of the independent TRANSFORM sub-steps
// (classification or ranking) failed while the other produced output.
const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// RunMeta carries retrieval and timing metrics for one run.
type RunMeta struct {
	// FetchCount is the number of discrete network calls made upstream,
	// including pagination continuations. LogicalFetches counts coalesced
	// logical fetches: one per unique fingerprint that missed the cache.
	FetchCount     int     `json:"fetch_count"`
	LogicalFetches int     `json:"logical_fetches"`
	Retries        int     `json:"retries"`
	CacheHitRatio  float64 `json:"cache_hit_ratio"`
	ElapsedMs      int64   `json:"elapsed_ms"`

	Status RunStatus `json:"status"`

	// Errors maps a failed stage or sub-step name to its error detail.
	Errors map[string]string `json:"errors,omitempty"`
}

// RunArtifact is the single output of one run, consumed by the external
// report-generation collaborator. It is serialized as-is at LOAD.
type RunArtifact struct {
	RunID       string        `json:"run_id"`
	Fingerprint string        `json:"fingerprint"`
	Request     SearchRequest `json:"request"`
	CreatedAt   time.Time     `json:"created_at"`

	RiskClassification *RiskClassification   `json:"risk_classification,omitempty"`
	Comparables        []ComparableCandidate `json:"comparables,omitempty"`
	Excluded           []ExcludedCandidate   `json:"excluded,omitempty"`

	Meta RunMeta `json:"meta"`
}
