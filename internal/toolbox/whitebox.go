package toolbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/lox/watershed/internal/metrics"
)

// DefaultWhiteboxBinary is looked up on PATH when no binary is configured.
const DefaultWhiteboxBinary = "whitebox_tools"

// ErrEngineUnavailable is returned by Check when the engine cannot be run.
var ErrEngineUnavailable = errors.New("raster engine unavailable")

// A CommandRunner runs name with args and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Whitebox is a Toolbox backed by the WhiteboxTools command line.
type Whitebox struct {
	binary  string
	run     CommandRunner
	verbose bool
}

type WhiteboxOption func(*Whitebox)

func WithBinary(binary string) WhiteboxOption {
	return func(w *Whitebox) {
		if binary != "" {
			w.binary = binary
		}
	}
}

// WithCommandRunner replaces process execution, for tests.
func WithCommandRunner(run CommandRunner) WhiteboxOption {
	return func(w *Whitebox) {
		w.run = run
	}
}

// WithVerbose logs the engine's output for every tool.
func WithVerbose(verbose bool) WhiteboxOption {
	return func(w *Whitebox) {
		w.verbose = verbose
	}
}

func NewWhitebox(options ...WhiteboxOption) *Whitebox {
	w := &Whitebox{
		binary: DefaultWhiteboxBinary,
		run:    execRunner,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Check verifies that the engine binary runs.
func (w *Whitebox) Check(ctx context.Context) (string, error) {
	out, err := w.run(ctx, w.binary, "--version")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, w.binary, err)
	}
	version, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return version, nil
}

// A ToolError is a failed engine invocation.
type ToolError struct {
	Tool   string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Output)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// tool runs one WhiteboxTools tool with --key=value parameters.
func (w *Whitebox) tool(ctx context.Context, name string, params ...string) error {
	args := make([]string, 0, len(params)+2)
	args = append(args, "--run="+name, "-v=false")
	args = append(args, params...)

	start := time.Now()
	out, err := w.run(ctx, w.binary, args...)
	metrics.StepDuration.WithLabelValues("engine_" + strings.ToLower(name)).Observe(time.Since(start).Seconds())
	if w.verbose && len(out) > 0 {
		log.Printf("toolbox: %s: %s", name, strings.TrimSpace(string(out)))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &ToolError{Tool: name, Output: tail(string(out), 512), Err: err}
	}
	return nil
}

func (w *Whitebox) Mosaic(ctx context.Context, inputs []string, output string) error {
	return w.tool(ctx, "Mosaic",
		"--inputs="+strings.Join(inputs, ";"),
		"--output="+output,
		"--method=nn",
	)
}

func (w *Whitebox) Clip(ctx context.Context, raster, polygons, output string) error {
	return w.tool(ctx, "ClipRasterToPolygon",
		"--input="+raster,
		"--polygons="+polygons,
		"--output="+output,
	)
}

func (w *Whitebox) Resample(ctx context.Context, raster, output string, cellSize float64) error {
	return w.tool(ctx, "Resample",
		"--inputs="+raster,
		"--output="+output,
		"--cell_size="+strconv.FormatFloat(cellSize, 'g', -1, 64),
		"--method=bilinear",
	)
}

func (w *Whitebox) Fill(ctx context.Context, dem, output string) error {
	return w.tool(ctx, "FillDepressions",
		"--dem="+dem,
		"--output="+output,
		"--fix_flats",
	)
}

func (w *Whitebox) FlowDirection(ctx context.Context, dem, output string) error {
	return w.tool(ctx, "D8Pointer",
		"--dem="+dem,
		"--output="+output,
		"--esri_pntr",
	)
}

func (w *Whitebox) Rasterize(ctx context.Context, polygons, field, base, output string) error {
	return w.tool(ctx, "VectorPolygonsToRaster",
		"--input="+polygons,
		"--field="+field,
		"--output="+output,
		"--nodata",
		"--base="+base,
	)
}

func (w *Whitebox) Watershed(ctx context.Context, flowDirection, pourPoints, output string) error {
	return w.tool(ctx, "Watershed",
		"--d8_pntr="+flowDirection,
		"--pour_pts="+pourPoints,
		"--output="+output,
		"--esri_pntr",
	)
}

func (w *Whitebox) Polygonize(ctx context.Context, raster, output string) error {
	return w.tool(ctx, "RasterToVectorPolygons",
		"--input="+raster,
		"--output="+output,
	)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
