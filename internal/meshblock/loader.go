package meshblock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/propscope/comp-engine/internal/model"
)

// FieldNames maps dataset attribute names onto mesh block fields.
type FieldNames struct {
	ID       string
	Category string
	Suburb   string
}

// DefaultFieldNames returns the attribute names used by the standard
// boundary extract.
func DefaultFieldNames() FieldNames {
	return FieldNames{ID: "MB_CODE", Category: "MB_CATEGORY", Suburb: "SUBURB"}
}

// Load reads a boundary dataset from a GeoJSON file or a shapefile,
// dispatching on the extension.
func Load(path string, fields FieldNames) (*Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".geojson":
		return LoadGeoJSON(path, fields)
	case ".shp":
		return LoadShapefile(path, fields)
	default:
		return nil, &model.ValidationError{Field: "meshblocks.path", Reason: fmt.Sprintf("unsupported dataset format %q", filepath.Ext(path))}
	}
}

// LoadGeoJSON reads a GeoJSON FeatureCollection of mesh block polygons.
func LoadGeoJSON(path string, fields FieldNames) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "meshblock: read geojson")
	}
	return ParseGeoJSON(data, fields)
}

// ParseGeoJSON decodes mesh blocks from GeoJSON bytes. Records with missing
// IDs or non-polygonal geometry fail the load; the dataset is all-or-nothing
// because every run shares it.
func ParseGeoJSON(data []byte, fields FieldNames) (*Dataset, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "meshblock: decode feature collection")
	}

	blocks := make([]MeshBlock, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			return nil, &model.ValidationError{Field: "geometry", Reason: fmt.Sprintf("feature %d has no geometry", i)}
		}
		switch f.Geometry.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
		default:
			return nil, &model.ValidationError{Field: "geometry", Reason: fmt.Sprintf("feature %d: unsupported geometry type %T", i, f.Geometry)}
		}

		id := stringProp(f.Properties, fields.ID)
		if id == "" {
			return nil, &model.ValidationError{Field: fields.ID, Reason: fmt.Sprintf("feature %d has no block id", i)}
		}

		blocks = append(blocks, MeshBlock{
			ID:       id,
			Category: NormalizeCategory(stringProp(f.Properties, fields.Category)),
			Suburb:   stringProp(f.Properties, fields.Suburb),
			Geometry: f.Geometry,
		})
	}

	zap.L().Info("mesh block dataset loaded",
		zap.Int("blocks", len(blocks)),
		zap.String("format", "geojson"),
	)
	return NewDataset(blocks), nil
}

// LoadShapefile reads mesh blocks from an ESRI shapefile.
func LoadShapefile(path string, fields FieldNames) (*Dataset, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "meshblock: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	idIdx := fieldIndex(reader, fields.ID)
	catIdx := fieldIndex(reader, fields.Category)
	suburbIdx := fieldIndex(reader, fields.Suburb)
	if idIdx < 0 {
		return nil, &model.ValidationError{Field: fields.ID, Reason: "field not found in shapefile attribute table"}
	}

	var blocks []MeshBlock
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}

		g := polygonToMultiPolygon(poly)
		if g == nil {
			skipped++
			continue
		}

		id := strings.TrimSpace(reader.Attribute(idIdx))
		if id == "" {
			return nil, &model.ValidationError{Field: fields.ID, Reason: "record with empty block id"}
		}

		var category, suburb string
		if catIdx >= 0 {
			category = reader.Attribute(catIdx)
		}
		if suburbIdx >= 0 {
			suburb = strings.TrimSpace(reader.Attribute(suburbIdx))
		}

		blocks = append(blocks, MeshBlock{
			ID:       id,
			Category: NormalizeCategory(category),
			Suburb:   suburb,
			Geometry: g,
		})
	}

	zap.L().Info("mesh block dataset loaded",
		zap.Int("blocks", len(blocks)),
		zap.Int("skipped", skipped),
		zap.String("format", "shapefile"),
	)
	return NewDataset(blocks), nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon,
// one single-ring polygon per part.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("meshblock: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("meshblock: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// fieldIndex returns the index of a named field in the shapefile, or -1.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

func stringProp(props map[string]any, key string) string {
	if props == nil || key == "" {
		return ""
	}
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSpace(s)
}
