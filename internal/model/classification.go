package model

// Category is the land-use category of a mesh block. Every block maps to
// exactly one category.
type Category string

// Mesh block categories.
const (
	CategoryResidential Category = "residential"
	CategoryCommercial  Category = "commercial"
	CategoryParkland    Category = "parkland"
	CategoryEducation   Category = "education"
	CategoryOther       Category = "other"
)

// Categories lists all known categories in a stable order.
func Categories() []Category {
	return []Category{
		CategoryResidential,
		CategoryCommercial,
		CategoryParkland,
		CategoryEducation,
		CategoryOther,
	}
}

// BlockDistance is one ranked non-residential mesh block near the subject.
type BlockDistance struct {
	BlockID        string   `json:"block_id"`
	Category       Category `json:"category"`
	Suburb         string   `json:"suburb"`
	DistanceMeters float64  `json:"distance_meters"`
}

// DistanceStats are aggregate statistics over non-residential block
// distances, in meters.
type DistanceStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// RiskClassification is the spatial classification of a subject point
// against the mesh block dataset. A zero-intersection result is valid: all
// counts zero and an empty top-K list.
type RiskClassification struct {
	BufferMeters        float64          `json:"buffer_meters"`
	TotalBlocks         int              `json:"total_blocks"`
	CountsByCategory    map[Category]int `json:"counts_by_category"`
	NonResidentialStats *DistanceStats   `json:"non_residential_stats,omitempty"`
	TopKNonResidential  []BlockDistance  `json:"top_k_non_residential"`
}
