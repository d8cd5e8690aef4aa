// Package meshblock loads the administrative boundary dataset and computes
// the spatial risk classification of a subject point against it.
package meshblock

import (
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/propscope/comp-engine/internal/model"
)

// MeshBlock is one administrative boundary polygon. Geometry is WGS84 and
// is never mutated after load.
type MeshBlock struct {
	ID       string
	Category model.Category
	Suburb   string
	Geometry geom.T
}

// Dataset is the boundary dataset, loaded once per process and treated as
// read-only by every run.
type Dataset struct {
	blocks []MeshBlock
}

// NewDataset wraps an already-loaded block collection.
func NewDataset(blocks []MeshBlock) *Dataset {
	return &Dataset{blocks: blocks}
}

// Len returns the number of blocks.
func (d *Dataset) Len() int {
	return len(d.blocks)
}

// Blocks returns the underlying block slice. Callers must not modify it.
func (d *Dataset) Blocks() []MeshBlock {
	return d.blocks
}

// CountsByCategory tallies the whole dataset, mostly for inspection
// tooling.
func (d *Dataset) CountsByCategory() map[model.Category]int {
	counts := make(map[model.Category]int, len(model.Categories()))
	for _, c := range model.Categories() {
		counts[c] = 0
	}
	for _, b := range d.blocks {
		counts[b.Category]++
	}
	return counts
}

// NormalizeCategory maps a source attribute value onto the category enum.
// Unknown values land in Other so that every block has exactly one
// category.
func NormalizeCategory(raw string) model.Category {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "residential":
		return model.CategoryResidential
	case "commercial":
		return model.CategoryCommercial
	case "parkland", "park":
		return model.CategoryParkland
	case "education", "educational":
		return model.CategoryEducation
	default:
		return model.CategoryOther
	}
}
