package vector

import (
	"fmt"
	"math"

	"github.com/im7mortal/UTM"
	"github.com/paulmach/orb"

	"github.com/lox/watershed/internal/models"
)

const DefaultSegments = 64

// A Region is the buffered area around a pour point that needs elevation
// data.
type Region struct {
	Ring   orb.Ring
	Extent models.Extent
}

func newRegion(ring orb.Ring) Region {
	return Region{Ring: ring, Extent: boundToExtent(ring.Bound())}
}

// Circle returns a closed clockwise ring of segments vertices approximating
// the circle of radius r around center, in the units of center.
func Circle(center orb.Point, r float64, segments int) orb.Ring {
	ring := make(orb.Ring, 0, segments+1)
	for i := range segments {
		theta := -2 * math.Pi * float64(i) / float64(segments)
		ring = append(ring, orb.Point{
			center[0] + r*math.Cos(theta),
			center[1] + r*math.Sin(theta),
		})
	}
	return append(ring, ring[0])
}

// RegionInDegrees buffers p by deg degrees.
func RegionInDegrees(p models.PourPoint, deg float64) Region {
	return newRegion(Circle(orb.Point{p.X, p.Y}, deg, DefaultSegments))
}

// RegionInMeters buffers p by a metric radius, computed in p's UTM zone.
func RegionInMeters(p models.PourPoint, meters float64) (Region, error) {
	northern := p.Y >= 0
	easting, northing, zone, _, err := UTM.FromLatLon(p.Y, p.X, northern)
	if err != nil {
		return Region{}, fmt.Errorf("utm: %w", err)
	}
	local := Circle(orb.Point{easting, northing}, meters, DefaultSegments)
	ring := make(orb.Ring, len(local))
	for i, q := range local {
		lat, lon, err := UTM.ToLatLon(q[0], q[1], zone, "", northern)
		if err != nil {
			return Region{}, fmt.Errorf("utm: %w", err)
		}
		ring[i] = orb.Point{lon, lat}
	}
	return newRegion(ring), nil
}
