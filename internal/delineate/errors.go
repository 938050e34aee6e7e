package delineate

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline step names, in execution order.
const (
	StepRegion     = "region"
	StepTiles      = "tiles"
	StepMosaic     = "mosaic"
	StepClip       = "clip"
	StepResample   = "resample"
	StepFill       = "fill"
	StepFlowDir    = "flowdir"
	StepLake       = "lake"
	StepRasterize  = "rasterize"
	StepWatershed  = "watershed"
	StepPolygonize = "polygonize"
	StepAppend     = "append"
)

var errNoPolygons = errors.New("watershed produced no polygons")

// A StepError is a site failure attributed to the step that produced it.
type StepError struct {
	Site  int
	Step  string
	Err   error
	Stack []byte // Set when the step panicked.
}

func (e *StepError) Error() string {
	return fmt.Sprintf("site %d: %s: %v", e.Site, e.Step, e.Err)
}

// Detail is the error message, one line per wrapped cause, then the stack of
// a recovered panic if there was one.
func (e *StepError) Detail() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for err := e.Err; err != nil; err = errors.Unwrap(err) {
		fmt.Fprintf(&b, "\n  caused by %T: %v", err, err)
	}
	if len(e.Stack) > 0 {
		b.WriteString("\n")
		b.Write(e.Stack)
	}
	return b.String()
}

// FailureDetail returns err.Detail() for a *StepError in err's chain, or the
// plain message otherwise.
func FailureDetail(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Detail()
	}
	return err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepOf returns the failing step recorded in err, or "".
func StepOf(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}
