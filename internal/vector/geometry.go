// Package vector reads pour points and lakes, builds sampling regions, and
// writes the shapefiles exchanged with the raster engine.
package vector

import (
	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/lox/watershed/internal/models"
)

// toGeomPolygon converts orb rings into a shapefile polygon.
func toGeomPolygon(rings []orb.Ring) geom.Polygon {
	poly := make(geom.Polygon, 0, len(rings))
	for _, ring := range rings {
		path := make(geom.Path, len(ring))
		for i, p := range ring {
			path[i] = geom.Point{X: p[0], Y: p[1]}
		}
		poly = append(poly, path)
	}
	return poly
}

// toRings converts a shapefile polygon into orb rings.
func toRings(poly geom.Polygon) []orb.Ring {
	rings := make([]orb.Ring, 0, len(poly))
	for _, path := range poly {
		ring := make(orb.Ring, len(path))
		for i, p := range path {
			ring[i] = orb.Point{p.X, p.Y}
		}
		rings = append(rings, ring)
	}
	return rings
}

// ringsFromOrb flattens polygonal orb geometry into its rings.
func ringsFromOrb(g orb.Geometry) ([]orb.Ring, bool) {
	switch g := g.(type) {
	case orb.Polygon:
		return []orb.Ring(g), true
	case orb.MultiPolygon:
		var rings []orb.Ring
		for _, p := range g {
			rings = append(rings, p...)
		}
		return rings, true
	}
	return nil, false
}

// ringsContain reports whether point lies inside rings under the even-odd
// rule, so holes and multi-part polygons both work without knowing which
// ring is outer.
func ringsContain(rings []orb.Ring, point orb.Point) bool {
	inside := false
	for _, ring := range rings {
		if planar.RingContains(ring, point) {
			inside = !inside
		}
	}
	return inside
}

func ringsBound(rings []orb.Ring) orb.Bound {
	var b orb.Bound
	for i, ring := range rings {
		if i == 0 {
			b = ring.Bound()
			continue
		}
		b = b.Union(ring.Bound())
	}
	return b
}

func boundToExtent(b orb.Bound) models.Extent {
	return models.Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

// PolygonExtent returns the extent of a shapefile polygon.
func PolygonExtent(poly geom.Polygon) models.Extent {
	return boundToExtent(ringsBound(toRings(poly)))
}
