// Package ranker scores candidate properties against a subject property
// and produces an explainable, deterministic comparable ordering.
package ranker

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/propscope/comp-engine/internal/config"
	"github.com/propscope/comp-engine/internal/gis"
	"github.com/propscope/comp-engine/internal/model"
)

// recencyHorizon is the sale age at which the recency term bottoms out.
const recencyHorizon = 730 * 24 * time.Hour

// Ranker computes weighted similarity scores. Weights are business
// configuration; the ranker renormalizes over the attributes actually
// present on each pair, so a missing optional attribute is neutral rather
// than penalizing.
type Ranker struct {
	weights        config.WeightsConfig
	mandatory      []string
	maxComparables int
	now            func() time.Time
}

// New builds a ranker from configuration.
func New(cfg config.RankerConfig) *Ranker {
	return &Ranker{
		weights:        cfg.Weights,
		mandatory:      cfg.MandatoryFields,
		maxComparables: cfg.MaxComparables,
		now:            time.Now,
	}
}

// Rank scores candidates against the subject within the search radius.
// Candidates missing a mandatory field are excluded with a reason instead
// of being scored. The returned comparables are ordered by descending
// score, ties broken by ascending property id, and capped at the
// configured maximum. The subject itself is never a comparable.
func (r *Ranker) Rank(subject model.PropertyRecord, candidates []model.PropertyRecord, radiusMeters float64) ([]model.ComparableCandidate, []model.ExcludedCandidate) {
	comparables := make([]model.ComparableCandidate, 0, len(candidates))
	excluded := make([]model.ExcludedCandidate, 0)

	for _, cand := range candidates {
		if cand.ID == subject.ID {
			continue
		}

		if missing := r.missingMandatory(cand); missing != "" {
			excluded = append(excluded, model.ExcludedCandidate{
				PropertyID: cand.ID,
				Reason:     fmt.Sprintf("missing mandatory field %q", missing),
			})
			continue
		}

		scored := r.score(subject, cand, radiusMeters)
		comparables = append(comparables, scored)
	}

	sort.Slice(comparables, func(i, j int) bool {
		if comparables[i].SimilarityScore != comparables[j].SimilarityScore {
			return comparables[i].SimilarityScore > comparables[j].SimilarityScore
		}
		return comparables[i].Property.ID < comparables[j].Property.ID
	})

	if r.maxComparables > 0 && len(comparables) > r.maxComparables {
		comparables = comparables[:r.maxComparables]
	}

	zap.L().Debug("ranking complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("comparables", len(comparables)),
		zap.Int("excluded", len(excluded)),
	)
	return comparables, excluded
}

func (r *Ranker) missingMandatory(cand model.PropertyRecord) string {
	for _, field := range r.mandatory {
		if _, ok := cand.Attr(field); !ok {
			return field
		}
	}
	return ""
}

// score computes the weighted similarity of one candidate. Each term maps
// its raw delta into [0, 1]; the composite is the weighted mean over the
// terms both records can supply.
func (r *Ranker) score(subject, cand model.PropertyRecord, radiusMeters float64) model.ComparableCandidate {
	deltas := make(map[string]float64)
	var weighted, totalWeight float64

	add := func(weight, similarity float64) {
		if weight <= 0 {
			return
		}
		weighted += weight * similarity
		totalWeight += weight
	}

	for _, term := range []struct {
		name   string
		weight float64
	}{
		{"beds", r.weights.Beds},
		{"baths", r.weights.Baths},
		{"cars", r.weights.Cars},
	} {
		sv, sok := subject.FloatAttr(term.name)
		cv, cok := cand.FloatAttr(term.name)
		if !sok || !cok {
			continue
		}
		delta := cv - sv
		deltas[term.name] = delta
		add(term.weight, countSimilarity(delta))
	}

	if sv, sok := subject.FloatAttr("land_area"); sok {
		if cv, cok := cand.FloatAttr("land_area"); cok {
			deltas["land_area"] = cv - sv
			add(r.weights.LandArea, ratioSimilarity(sv, cv))
		}
	}

	distance := gis.DistanceMeters(subject.Coordinates, cand.Coordinates)
	deltas["distance_meters"] = distance
	add(r.weights.Distance, distanceSimilarity(distance, radiusMeters))

	if saleDate, ok := cand.TimeAttr("sale_date"); ok {
		age := r.now().Sub(saleDate)
		deltas["sale_age_days"] = age.Hours() / 24
		add(r.weights.Recency, recencySimilarity(age))
	}

	score := 0.0
	if totalWeight > 0 {
		score = weighted / totalWeight
	}

	return model.ComparableCandidate{
		Property:        cand,
		DistanceMeters:  distance,
		SimilarityScore: score,
		AttributeDeltas: deltas,
	}
}

// countSimilarity maps an integer-count delta into (0, 1]: equal counts
// score 1, each unit of difference halves the remaining similarity.
func countSimilarity(delta float64) float64 {
	return 1 / (1 + math.Abs(delta))
}

// ratioSimilarity compares two magnitudes by their relative difference.
func ratioSimilarity(a, b float64) float64 {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return 1
	}
	sim := 1 - math.Abs(a-b)/larger
	if sim < 0 {
		return 0
	}
	return sim
}

// distanceSimilarity decays linearly from 1 at the subject to 0 at the
// search radius. Strictly monotonic in distance within the radius.
func distanceSimilarity(distance, radiusMeters float64) float64 {
	if radiusMeters <= 0 {
		return 0
	}
	sim := 1 - distance/radiusMeters
	if sim < 0 {
		return 0
	}
	return sim
}

// recencySimilarity decays linearly to 0 over the recency horizon. Future
// dates clamp to 1 rather than rewarding bad data.
func recencySimilarity(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	sim := 1 - float64(age)/float64(recencyHorizon)
	if sim < 0 {
		return 0
	}
	return sim
}
