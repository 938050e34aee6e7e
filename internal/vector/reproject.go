package vector

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-proj/v10"

	"github.com/lox/watershed/internal/models"
)

// A Reprojector transforms pour points and lakes from their source CRS into
// longitude, latitude (EPSG:4326) so that tiles can be named from them.
type Reprojector struct {
	pj *proj.PJ
}

// NewReprojector returns a Reprojector from sourceCRS, e.g. "EPSG:32610".
func NewReprojector(sourceCRS string) (*Reprojector, error) {
	pj, err := proj.NewCRSToCRS(sourceCRS, "EPSG:4326", nil)
	if err != nil {
		return nil, fmt.Errorf("proj %s: %w", sourceCRS, err)
	}
	// EPSG:4326 is latitude first; normalize to x = longitude.
	normalized, err := pj.NormalizeForVisualization()
	pj.Destroy()
	if err != nil {
		return nil, fmt.Errorf("proj %s: %w", sourceCRS, err)
	}
	return &Reprojector{pj: normalized}, nil
}

// Points reprojects points in place.
func (r *Reprojector) Points(points []models.PourPoint) error {
	for i, p := range points {
		c, err := r.pj.Forward(proj.NewCoord(p.X, p.Y, 0, 0))
		if err != nil {
			return fmt.Errorf("reproject site %d: %w", p.SiteID, err)
		}
		points[i].X, points[i].Y = c.X(), c.Y()
	}
	return nil
}

// Lakes reprojects every ring of lakes in place and recomputes the bounds.
func (r *Reprojector) Lakes(lakes Lakes) error {
	for i := range lakes {
		for _, ring := range lakes[i].Rings {
			for j, p := range ring {
				c, err := r.pj.Forward(proj.NewCoord(p[0], p[1], 0, 0))
				if err != nil {
					return fmt.Errorf("reproject lake %d: %w", lakes[i].ID, err)
				}
				ring[j] = orb.Point{c.X(), c.Y()}
			}
		}
		lakes[i].Bound = ringsBound(lakes[i].Rings)
	}
	return nil
}

func (r *Reprojector) Close() {
	r.pj.Destroy()
}
