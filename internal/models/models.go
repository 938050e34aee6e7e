package models

import (
	"fmt"
	"math"
	"time"
)

// PourPoint is a sampling site at which a watershed is delineated.
type PourPoint struct {
	SiteID int
	X      float64 // Longitude once reprojected.
	Y      float64 // Latitude once reprojected.
}

// Extent is an axis-aligned bounding box in map units.
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// PointExtent returns the degenerate extent of a single point.
func PointExtent(x, y float64) Extent {
	return Extent{MinX: x, MinY: y, MaxX: x, MaxY: y}
}

// Buffer returns e grown by d on every side.
func (e Extent) Buffer(d float64) Extent {
	return Extent{MinX: e.MinX - d, MinY: e.MinY - d, MaxX: e.MaxX + d, MaxY: e.MaxY + d}
}

// Union returns the smallest extent containing e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

func (e Extent) Contains(x, y float64) bool {
	return x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

func (e Extent) Width() float64  { return e.MaxX - e.MinX }
func (e Extent) Height() float64 { return e.MaxY - e.MinY }

// String formats e as "minx miny maxx maxy".
func (e Extent) String() string {
	return fmt.Sprintf("%v %v %v %v", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

type SiteStatus string

const (
	SiteOK      SiteStatus = "ok"
	SiteFailed  SiteStatus = "failed"
	SiteSkipped SiteStatus = "skipped"
)

// SiteResult is the outcome of processing one pour point.
type SiteResult struct {
	SiteID   int
	Status   SiteStatus
	Step     string // Step that failed, empty on success.
	Tiles    []string
	Polygons int
	Err      error
	Duration time.Duration
}

// Summary aggregates the results of a run.
type Summary struct {
	RunID     string
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	FailedIDs []int
}

func (s *Summary) Add(r SiteResult) {
	switch r.Status {
	case SiteOK:
		s.Processed++
		s.Succeeded++
	case SiteFailed:
		s.Processed++
		s.Failed++
		s.FailedIDs = append(s.FailedIDs, r.SiteID)
	case SiteSkipped:
		s.Skipped++
	}
}
