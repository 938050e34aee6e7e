package models

import (
	"errors"
	"testing"
)

func TestExtent(t *testing.T) {
	e := PointExtent(-121.5, 37.5).Buffer(0.25)
	if e.String() != "-121.75 37.25 -121.25 37.75" {
		t.Errorf("String() = %q", e.String())
	}
	if !e.Contains(-121.45, 37.55) || e.Contains(-121.2, 37.5) {
		t.Error("Contains gave the wrong answer")
	}

	u := e.Union(Extent{MinX: -122, MinY: 37, MaxX: -121.9, MaxY: 37.1})
	want := Extent{MinX: -122, MinY: 37, MaxX: e.MaxX, MaxY: e.MaxY}
	if u != want {
		t.Errorf("Union = %+v, want %+v", u, want)
	}
}

func TestSummaryAdd(t *testing.T) {
	var s Summary
	for _, r := range []SiteResult{
		{SiteID: 1, Status: SiteOK},
		{SiteID: 2, Status: SiteFailed, Err: errors.New("boom")},
		{SiteID: 3, Status: SiteOK},
		{SiteID: 4, Status: SiteSkipped},
		{SiteID: 5, Status: SiteFailed},
	} {
		s.Add(r)
	}

	if s.Processed != 4 || s.Succeeded != 2 || s.Failed != 2 || s.Skipped != 1 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.FailedIDs) != 2 || s.FailedIDs[0] != 2 || s.FailedIDs[1] != 5 {
		t.Errorf("FailedIDs = %v, want [2 5]", s.FailedIDs)
	}
}
