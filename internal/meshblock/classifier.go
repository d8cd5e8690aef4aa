package meshblock

import (
	"sort"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/propscope/comp-engine/internal/gis"
	"github.com/propscope/comp-engine/internal/model"
)

// Classifier computes a deterministic risk classification of a subject
// point against the shared boundary dataset.
type Classifier struct {
	dataset *Dataset
	topK    int
}

// NewClassifier creates a classifier over an immutable dataset. topK bounds
// the ranked non-residential list (default 5).
func NewClassifier(dataset *Dataset, topK int) *Classifier {
	if topK <= 0 {
		topK = 5
	}
	return &Classifier{dataset: dataset, topK: topK}
}

// Classify buffers the subject point by radiusMeters, selects intersecting
// blocks, tallies categories and ranks the nearest non-residential blocks
// by centroid distance. Identical inputs always produce identical output
// ordering: ties on distance break by ascending block id.
//
// The buffered disc is evaluated analytically by gis.WithinDistance
// rather than materialized as a gis.Buffer polygon; the selection is the
// same but without the segment approximation of the circle.
//
// Zero intersecting blocks is a valid result, not an error.
func (c *Classifier) Classify(subject model.Location, radiusMeters float64) (*model.RiskClassification, error) {
	if err := (model.SearchRequest{Center: subject, RadiusMeters: radiusMeters}).Validate(); err != nil {
		return nil, err
	}

	blocks := c.dataset.Blocks()
	geometries := make([]geom.T, len(blocks))
	for i := range blocks {
		geometries[i] = blocks[i].Geometry
	}

	pairs, err := gis.WithinDistance(subject, geometries, radiusMeters)
	if err != nil {
		return nil, err
	}

	counts := make(map[model.Category]int, len(model.Categories()))
	for _, cat := range model.Categories() {
		counts[cat] = 0
	}

	var nonResidential []model.BlockDistance
	for _, pair := range pairs {
		block := blocks[pair.Index]
		counts[block.Category]++

		if block.Category == model.CategoryResidential {
			continue
		}

		centroid, err := gis.Centroid(block.Geometry)
		if err != nil {
			return nil, err
		}
		nonResidential = append(nonResidential, model.BlockDistance{
			BlockID:        block.ID,
			Category:       block.Category,
			Suburb:         block.Suburb,
			DistanceMeters: gis.DistanceMeters(subject, centroid),
		})
	}

	sort.Slice(nonResidential, func(i, j int) bool {
		if nonResidential[i].DistanceMeters != nonResidential[j].DistanceMeters {
			return nonResidential[i].DistanceMeters < nonResidential[j].DistanceMeters
		}
		return nonResidential[i].BlockID < nonResidential[j].BlockID
	})

	stats := distanceStats(nonResidential)

	topK := nonResidential
	if len(topK) > c.topK {
		topK = topK[:c.topK]
	}
	if topK == nil {
		topK = []model.BlockDistance{}
	}

	zap.L().Debug("classification complete",
		zap.Int("intersecting", len(pairs)),
		zap.Int("non_residential", len(nonResidential)),
		zap.Float64("radius_m", radiusMeters),
	)

	return &model.RiskClassification{
		BufferMeters:        radiusMeters,
		TotalBlocks:         len(pairs),
		CountsByCategory:    counts,
		NonResidentialStats: stats,
		TopKNonResidential:  topK,
	}, nil
}

// distanceStats aggregates min/max/mean/median over a distance-sorted block
// list. Nil for an empty list.
func distanceStats(sorted []model.BlockDistance) *model.DistanceStats {
	n := len(sorted)
	if n == 0 {
		return nil
	}

	var sum float64
	for _, b := range sorted {
		sum += b.DistanceMeters
	}

	var median float64
	if n%2 == 1 {
		median = sorted[n/2].DistanceMeters
	} else {
		median = (sorted[n/2-1].DistanceMeters + sorted[n/2].DistanceMeters) / 2
	}

	return &model.DistanceStats{
		Min:    sorted[0].DistanceMeters,
		Max:    sorted[n-1].DistanceMeters,
		Mean:   sum / float64(n),
		Median: median,
	}
}
