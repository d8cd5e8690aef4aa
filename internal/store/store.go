// Package store persists run artifacts for the report-generation
// collaborator.
package store

import (
	"context"

	"github.com/propscope/comp-engine/internal/model"
)

// ArtifactFilter specifies criteria for listing artifacts.
type ArtifactFilter struct {
	Status      model.RunStatus `json:"status,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Offset      int             `json:"offset,omitempty"`
}

// Store defines the artifact persistence interface.
type Store interface {
	SaveArtifact(ctx context.Context, artifact *model.RunArtifact) error
	GetArtifact(ctx context.Context, runID string) (*model.RunArtifact, error)

	// LatestByFingerprint returns the most recent artifact for a request
	// fingerprint, or nil when none exists.
	LatestByFingerprint(ctx context.Context, fingerprint string) (*model.RunArtifact, error)

	ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.RunArtifact, error)

	Migrate(ctx context.Context) error
	Close() error
}
