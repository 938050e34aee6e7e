package vector

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/lox/watershed/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported vector format")
	errDuplicateSite     = errors.New("duplicate site id")
)

// ReadPourPoints reads the point layer at path (ESRI shapefile or GeoJSON)
// and returns one PourPoint per feature, identified by idField.
func ReadPourPoints(path, idField string) ([]models.PourPoint, error) {
	var (
		points []models.PourPoint
		err    error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".shp":
		points, err = readShapefilePoints(path, idField)
	case ".geojson", ".json":
		points, err = readGeoJSONPoints(path, idField)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(points))
	for _, p := range points {
		if seen[p.SiteID] {
			return nil, fmt.Errorf("%w: %d", errDuplicateSite, p.SiteID)
		}
		seen[p.SiteID] = true
	}
	return points, nil
}

func readShapefilePoints(path, idField string) ([]models.PourPoint, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer d.Close()

	var points []models.PourPoint
	for row := 0; ; row++ {
		g, fields, more := d.DecodeRowFields(idField)
		if !more {
			break
		}
		p, ok := g.(geom.Point)
		if !ok {
			return nil, fmt.Errorf("%s row %d: geometry %T is not a point", path, row, g)
		}
		raw, ok := fields[idField]
		if !ok {
			return nil, fmt.Errorf("%s: no field %q", path, idField)
		}
		id, err := parseSiteID(raw)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, row, err)
		}
		points = append(points, models.PourPoint{SiteID: id, X: p.X, Y: p.Y})
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return points, nil
}

func readGeoJSONPoints(path, idField string) ([]models.PourPoint, error) {
	fc, err := readFeatureCollection(path)
	if err != nil {
		return nil, err
	}
	points := make([]models.PourPoint, 0, len(fc.Features))
	for i, f := range fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("%s feature %d: geometry %T is not a point", path, i, f.Geometry)
		}
		raw, ok := f.Properties[idField]
		if !ok {
			return nil, fmt.Errorf("%s feature %d: no property %q", path, i, idField)
		}
		id, err := parseSiteID(raw)
		if err != nil {
			return nil, fmt.Errorf("%s feature %d: %w", path, i, err)
		}
		points = append(points, models.PourPoint{SiteID: id, X: p.X(), Y: p.Y()})
	}
	return points, nil
}

func readFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return fc, nil
}

// parseSiteID accepts the integer site ids stored as text in DBF files or as
// numbers in GeoJSON.
func parseSiteID(v any) (int, error) {
	switch v := v.(type) {
	case string:
		s := strings.TrimSpace(v)
		if id, err := strconv.Atoi(s); err == nil {
			return id, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("site id %q is not an integer", v)
		}
		return parseSiteID(f)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("site id %v is not an integer", v)
		}
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("site id %v has unsupported type %T", v, v)
}
