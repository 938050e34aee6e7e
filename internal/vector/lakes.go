package vector

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb"
)

// ErrNoLake is returned when no lake polygon intersects a pour point.
var ErrNoLake = errors.New("no lake intersects site")

// A Lake is one polygon feature of the lake layer.
type Lake struct {
	ID    int // One-based feature number, used as the raster value.
	Rings []orb.Ring
	Bound orb.Bound
}

// Lakes is an in-memory lake layer.
type Lakes []Lake

// ReadLakes reads every polygon of the layer at path.
func ReadLakes(path string) (Lakes, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".shp":
		return readShapefileLakes(path)
	case ".geojson", ".json":
		return readGeoJSONLakes(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func readShapefileLakes(path string) (Lakes, error) {
	polys, err := ReadPolygons(path)
	if err != nil {
		return nil, err
	}
	lakes := make(Lakes, 0, len(polys))
	for _, poly := range polys {
		rings := toRings(poly)
		lakes = append(lakes, Lake{ID: len(lakes) + 1, Rings: rings, Bound: ringsBound(rings)})
	}
	return lakes, nil
}

func readGeoJSONLakes(path string) (Lakes, error) {
	fc, err := readFeatureCollection(path)
	if err != nil {
		return nil, err
	}
	lakes := make(Lakes, 0, len(fc.Features))
	for i, f := range fc.Features {
		rings, ok := ringsFromOrb(f.Geometry)
		if !ok {
			return nil, fmt.Errorf("%s feature %d: geometry %T is not a polygon", path, i, f.Geometry)
		}
		lakes = append(lakes, Lake{ID: len(lakes) + 1, Rings: rings, Bound: ringsBound(rings)})
	}
	return lakes, nil
}

// Containing returns the lakes intersecting the point x, y.
func (l Lakes) Containing(x, y float64) Lakes {
	point := orb.Point{x, y}
	var selected Lakes
	for _, lake := range l {
		if !lake.Bound.Contains(point) {
			continue
		}
		if ringsContain(lake.Rings, point) {
			selected = append(selected, lake)
		}
	}
	return selected
}

// ReadPolygons reads every polygon of a shapefile. Multi-part records are
// returned as a single polygon holding all parts.
func ReadPolygons(path string) ([]geom.Polygon, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer d.Close()

	var polys []geom.Polygon
	for row := 0; ; row++ {
		g, _, more := d.DecodeRowFields()
		if !more {
			break
		}
		switch g := g.(type) {
		case geom.Polygon:
			polys = append(polys, g)
		case geom.MultiPolygon:
			var merged geom.Polygon
			for _, p := range g {
				merged = append(merged, p...)
			}
			polys = append(polys, merged)
		default:
			return nil, fmt.Errorf("%s row %d: geometry %T is not a polygon", path, row, g)
		}
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return polys, nil
}
