package delineate

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"

	"github.com/lox/watershed/internal/models"
	"github.com/lox/watershed/internal/srtm"
	"github.com/lox/watershed/internal/tiles"
	"github.com/lox/watershed/internal/vector"
)

// writeRaster writes a 10x10 GeoTIFF header so that Describe accepts the
// file.
func writeRaster(path string) error {
	le := binary.LittleEndian
	var buf bytes.Buffer
	put := func(v any) { binary.Write(&buf, le, v) }

	put([]byte("II"))
	put(uint16(42))
	put(uint32(8))

	const entries = 4
	extra := uint32(8 + 2 + 12*entries + 4)
	put(uint16(entries))
	put([]uint16{256, 4}) // ImageWidth LONG
	put([]uint32{1, 10})
	put([]uint16{257, 4}) // ImageLength LONG
	put([]uint32{1, 10})
	put([]uint16{33550, 12}) // ModelPixelScale DOUBLE[3]
	put([]uint32{3, extra})
	put([]uint16{33922, 12}) // ModelTiepoint DOUBLE[6]
	put([]uint32{6, extra + 24})
	put(uint32(0))
	for _, v := range []float64{0.0003, 0.0003, 0, 0, 0, 0, -121.6, 37.6, 0} {
		put(math.Float64bits(v))
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// fakeToolbox writes placeholder outputs and records which tools ran.
type fakeToolbox struct {
	mu      sync.Mutex
	calls   []string
	mosaics [][]string
	failAt  string
	panicAt string
}

func (f *fakeToolbox) record(tool string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tool)
	if f.panicAt == tool {
		panic("engine crashed in " + tool)
	}
	if f.failAt == tool {
		return errors.New(tool + " failed")
	}
	return nil
}

func touch(path string) error {
	return os.WriteFile(path, []byte("raster"), 0o644)
}

func (f *fakeToolbox) Mosaic(ctx context.Context, inputs []string, output string) error {
	if err := f.record("Mosaic"); err != nil {
		return err
	}
	f.mosaics = append(f.mosaics, inputs)
	return touch(output)
}

func (f *fakeToolbox) Clip(ctx context.Context, raster, polygons, output string) error {
	if err := f.record("Clip"); err != nil {
		return err
	}
	if _, err := os.Stat(polygons); err != nil {
		return err
	}
	return writeRaster(output)
}

func (f *fakeToolbox) Resample(ctx context.Context, raster, output string, cellSize float64) error {
	if err := f.record("Resample"); err != nil {
		return err
	}
	return touch(output)
}

func (f *fakeToolbox) Fill(ctx context.Context, dem, output string) error {
	if err := f.record("Fill"); err != nil {
		return err
	}
	return touch(output)
}

func (f *fakeToolbox) FlowDirection(ctx context.Context, dem, output string) error {
	if err := f.record("FlowDirection"); err != nil {
		return err
	}
	return touch(output)
}

func (f *fakeToolbox) Rasterize(ctx context.Context, polygons, field, base, output string) error {
	if err := f.record("Rasterize"); err != nil {
		return err
	}
	if field != vector.LakeIDField {
		return errors.New("unexpected field " + field)
	}
	return touch(output)
}

func (f *fakeToolbox) Watershed(ctx context.Context, flowDirection, pourPoints, output string) error {
	if err := f.record("Watershed"); err != nil {
		return err
	}
	return touch(output)
}

func (f *fakeToolbox) Polygonize(ctx context.Context, raster, output string) error {
	if err := f.record("Polygonize"); err != nil {
		return err
	}
	basin := square(-121.6, 37.4, 0.2)
	return vector.WriteLakes(output, vector.Lakes{{ID: 1, Rings: basin, Bound: basin[0].Bound()}})
}

func (f *fakeToolbox) called(tool string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == tool {
			return true
		}
	}
	return false
}

type fakeTiles struct {
	dir     string
	missing map[string]bool
	got     []string
}

func (f *fakeTiles) Get(ctx context.Context, tile srtm.Tile) (string, error) {
	if f.missing[tile.Name()] {
		return "", tiles.ErrTileNotFound
	}
	f.got = append(f.got, tile.Name())
	path := filepath.Join(f.dir, tile.HGTName())
	return path, touch(path)
}

type fakeLedger struct {
	results []models.SiteResult
}

func (f *fakeLedger) RecordSite(runID string, result models.SiteResult) error {
	if runID != "run-1" {
		return errors.New("unexpected run id " + runID)
	}
	f.results = append(f.results, result)
	return nil
}

func square(minX, minY, size float64) []orb.Ring {
	return []orb.Ring{{
		{minX, minY}, {minX, minY + size}, {minX + size, minY + size}, {minX + size, minY}, {minX, minY},
	}}
}

type harness struct {
	workspace string
	toolbox   *fakeToolbox
	tiles     *fakeTiles
	ledger    *fakeLedger
	output    *vector.OutputLayer
	failures  *FailureLog
	runner    *Runner
}

func newHarness(t *testing.T, options ...RunnerOption) *harness {
	t.Helper()
	workspace := t.TempDir()

	lakes := vector.Lakes{
		{ID: 1, Rings: square(-121.6, 37.4, 0.2)},
		{ID: 2, Rings: square(-122.05, 37.4, 0.2)},
	}
	for i := range lakes {
		lakes[i].Bound = lakes[i].Rings[0].Bound()
	}

	output, err := vector.CreateOutputLayer(filepath.Join(workspace, vector.OutputName))
	if err != nil {
		t.Fatalf("CreateOutputLayer: %v", err)
	}
	failures, err := OpenFailureLog(filepath.Join(workspace, FailureLogName))
	if err != nil {
		t.Fatalf("OpenFailureLog: %v", err)
	}
	t.Cleanup(func() { failures.Close() })

	h := &harness{
		workspace: workspace,
		toolbox:   &fakeToolbox{},
		tiles:     &fakeTiles{dir: t.TempDir(), missing: map[string]bool{}},
		ledger:    &fakeLedger{},
		output:    output,
		failures:  failures,
	}
	options = append([]RunnerOption{WithLedger(h.ledger, "run-1")}, options...)
	h.runner, err = NewRunner(DefaultConfig(workspace), h.toolbox, h.tiles, lakes, output, failures, options...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return h
}

func (h *harness) watersheds(t *testing.T) []vector.Watershed {
	t.Helper()
	if err := h.output.Close(); err != nil {
		t.Fatalf("close output: %v", err)
	}
	ws, err := vector.ReadWatersheds(h.output.Path())
	if err != nil {
		t.Fatalf("ReadWatersheds: %v", err)
	}
	return ws
}

func (h *harness) failedIDs(t *testing.T) []int {
	t.Helper()
	ids, err := ReadFailureLog(filepath.Join(h.workspace, FailureLogName))
	if err != nil {
		t.Fatalf("ReadFailureLog: %v", err)
	}
	return ids
}

func TestRunSingleTileSite(t *testing.T) {
	h := newHarness(t)

	summary := h.runner.Run(context.Background(), []models.PourPoint{{SiteID: 7, X: -121.5, Y: 37.5}})

	if summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 success", summary)
	}
	if h.toolbox.called("Mosaic") {
		t.Error("Mosaic called for a single tile")
	}
	if got := strings.Join(h.tiles.got, ","); got != "N37W122" {
		t.Errorf("tiles = %s, want N37W122", got)
	}
	if _, err := os.Stat(filepath.Join(h.workspace, "site_7")); !os.IsNotExist(err) {
		t.Errorf("site directory left behind: %v", err)
	}

	ws := h.watersheds(t)
	if len(ws) != 1 || ws[0].SiteID != 7 {
		t.Fatalf("watersheds = %+v, want one polygon for site 7", ws)
	}
	if ids := h.failedIDs(t); len(ids) != 0 {
		t.Errorf("failure log = %v, want empty", ids)
	}

	if len(h.ledger.results) != 1 {
		t.Fatalf("ledger has %d results, want 1", len(h.ledger.results))
	}
	r := h.ledger.results[0]
	if r.Status != models.SiteOK || r.Polygons != 1 || len(r.Tiles) != 1 {
		t.Errorf("ledger result = %+v", r)
	}
}

func TestRunMosaicsAcrossTileBoundary(t *testing.T) {
	h := newHarness(t)

	summary := h.runner.Run(context.Background(), []models.PourPoint{{SiteID: 3, X: -121.95, Y: 37.5}})

	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v, want 1 success", summary)
	}
	if len(h.toolbox.mosaics) != 1 || len(h.toolbox.mosaics[0]) != 2 {
		t.Fatalf("mosaics = %v, want one mosaic of two tiles", h.toolbox.mosaics)
	}
	if got := strings.Join(h.tiles.got, ","); got != "N37W123,N37W122" {
		t.Errorf("tiles = %s, want N37W123,N37W122", got)
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	h := newHarness(t)

	points := []models.PourPoint{
		{SiteID: 1, X: -121.5, Y: 37.5},
		{SiteID: 2, X: -121.2, Y: 37.1}, // No lake here.
		{SiteID: 3, X: -121.55, Y: 37.45},
	}
	summary := h.runner.Run(context.Background(), points)

	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 2 succeeded and 1 failed", summary)
	}
	if len(summary.FailedIDs) != 1 || summary.FailedIDs[0] != 2 {
		t.Errorf("FailedIDs = %v, want [2]", summary.FailedIDs)
	}

	failed := h.ledger.results[1]
	if failed.Status != models.SiteFailed || failed.Step != StepLake {
		t.Errorf("site 2 = %s at %q, want failed at %q", failed.Status, failed.Step, StepLake)
	}
	if !errors.Is(failed.Err, vector.ErrNoLake) {
		t.Errorf("err = %v, want ErrNoLake", failed.Err)
	}
	if _, err := os.Stat(filepath.Join(h.workspace, "site_2")); !os.IsNotExist(err) {
		t.Errorf("failed site directory left behind: %v", err)
	}

	if ids := h.failedIDs(t); len(ids) != 1 || ids[0] != 2 {
		t.Errorf("failure log = %v, want [2]", ids)
	}

	ws := h.watersheds(t)
	if len(ws) != 2 || ws[0].SiteID != 1 || ws[1].SiteID != 3 {
		t.Errorf("watersheds = %+v, want sites 1 and 3", ws)
	}
}

func TestRunStepFailures(t *testing.T) {
	tests := []struct {
		name     string
		failAt   string
		missing  string
		wantStep string
		wantErr  error
	}{
		{name: "missing tile", missing: "N37W122", wantStep: StepTiles, wantErr: tiles.ErrTileNotFound},
		{name: "clip", failAt: "Clip", wantStep: StepClip},
		{name: "fill", failAt: "Fill", wantStep: StepFill},
		{name: "flow direction", failAt: "FlowDirection", wantStep: StepFlowDir},
		{name: "rasterize", failAt: "Rasterize", wantStep: StepRasterize},
		{name: "polygonize", failAt: "Polygonize", wantStep: StepPolygonize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.toolbox.failAt = tt.failAt
			if tt.missing != "" {
				h.tiles.missing[tt.missing] = true
			}

			err := h.runner.ProcessSite(context.Background(), models.PourPoint{SiteID: 5, X: -121.5, Y: 37.5})

			var stepErr *StepError
			if !errors.As(err, &stepErr) {
				t.Fatalf("err = %v, want *StepError", err)
			}
			if stepErr.Step != tt.wantStep || stepErr.Site != 5 {
				t.Errorf("StepError = site %d step %q, want site 5 step %q", stepErr.Site, stepErr.Step, tt.wantStep)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if h.output.Polygons() != 0 {
				t.Errorf("output has %d polygons after failure", h.output.Polygons())
			}
		})
	}
}

func TestRunRecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.toolbox.panicAt = "Watershed"

	summary := h.runner.Run(context.Background(), []models.PourPoint{
		{SiteID: 1, X: -121.5, Y: 37.5},
	})
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failure", summary)
	}

	result := h.ledger.results[0]
	var stepErr *StepError
	if !errors.As(result.Err, &stepErr) {
		t.Fatalf("err = %v, want *StepError", result.Err)
	}
	if stepErr.Step != StepWatershed {
		t.Errorf("Step = %q, want %q", stepErr.Step, StepWatershed)
	}
	if !strings.Contains(stepErr.Err.Error(), "engine crashed") || len(stepErr.Stack) == 0 {
		t.Errorf("panic not captured: %v, %d byte stack", stepErr.Err, len(stepErr.Stack))
	}
}

func TestRunCancellationSkipsRemainingSites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, WithSiteHook(func(models.SiteResult) { cancel() }))

	summary := h.runner.Run(ctx, []models.PourPoint{
		{SiteID: 1, X: -121.5, Y: 37.5},
		{SiteID: 2, X: -121.5, Y: 37.5},
		{SiteID: 3, X: -121.5, Y: 37.5},
	})

	if summary.Succeeded != 1 || summary.Skipped != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 succeeded and 2 skipped", summary)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}
	if ids := h.failedIDs(t); len(ids) != 0 {
		t.Errorf("skipped sites written to failure log: %v", ids)
	}
	if len(h.ledger.results) != 3 || h.ledger.results[2].Status != models.SiteSkipped {
		t.Errorf("ledger = %+v, want 3 results ending in skipped", h.ledger.results)
	}
}

func TestRunWithMetricBuffer(t *testing.T) {
	h := newHarness(t)
	h.runner.cfg.BufferMeters = 5000

	if err := h.runner.ProcessSite(context.Background(), models.PourPoint{SiteID: 1, X: -121.5, Y: 37.5}); err != nil {
		t.Fatalf("ProcessSite: %v", err)
	}
	if got := strings.Join(h.tiles.got, ","); got != "N37W122" {
		t.Errorf("tiles = %s, want N37W122", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "no workspace", modify: func(c *Config) { c.Workspace = "" }, wantErr: true},
		{name: "zero buffer", modify: func(c *Config) { c.BufferDegrees = 0 }, wantErr: true},
		{name: "huge buffer", modify: func(c *Config) { c.BufferDegrees = 2 }, wantErr: true},
		{name: "negative meters", modify: func(c *Config) { c.BufferMeters = -1 }, wantErr: true},
		{name: "zero cell size", modify: func(c *Config) { c.CellSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("/tmp/ws")
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFailureLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), FailureLogName)

	for _, ids := range [][]int{{4, 8}, {15}} {
		l, err := OpenFailureLog(path)
		if err != nil {
			t.Fatalf("OpenFailureLog: %v", err)
		}
		for _, id := range ids {
			if err := l.Add(id); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}
		if l.Count() != len(ids) {
			t.Errorf("Count = %d, want %d", l.Count(), len(ids))
		}
		l.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "4\n8\n15\n" {
		t.Errorf("failure log = %q, want %q", data, "4\n8\n15\n")
	}
}

func TestFailureLoggedWithDetail(t *testing.T) {
	var logged bytes.Buffer
	log.SetOutput(&logged)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	h := newHarness(t)
	h.runner.Run(context.Background(), []models.PourPoint{{SiteID: 2, X: -121.2, Y: 37.1}})

	detail := FailureDetail(h.ledger.results[0].Err)
	if !strings.Contains(detail, "caused by") || !strings.Contains(detail, vector.ErrNoLake.Error()) {
		t.Errorf("detail = %q, want the cause chain", detail)
	}
	if !strings.Contains(logged.String(), detail) {
		t.Errorf("log does not carry the failure detail:\n%s", logged.String())
	}
}

func TestStepErrorDetail(t *testing.T) {
	cause := fmt.Errorf("clip region.shp: %w", errors.New("exit status 1"))
	err := &StepError{Site: 4, Step: StepClip, Err: cause}
	want := "site 4: clip: clip region.shp: exit status 1" +
		"\n  caused by *fmt.wrapError: clip region.shp: exit status 1" +
		"\n  caused by *errors.errorString: exit status 1"
	if got := err.Detail(); got != want {
		t.Errorf("Detail() = %q, want %q", got, want)
	}

	err.Stack = []byte("goroutine 1 [running]:")
	if got := err.Detail(); !strings.HasSuffix(got, "\ngoroutine 1 [running]:") {
		t.Errorf("Detail() = %q, want the stack appended", got)
	}

	if got := FailureDetail(errors.New("plain")); got != "plain" {
		t.Errorf("FailureDetail(plain) = %q", got)
	}
}

func TestStepOf(t *testing.T) {
	err := &StepError{Site: 1, Step: StepClip, Err: errors.New("boom")}
	if got := StepOf(err); got != StepClip {
		t.Errorf("StepOf = %q, want %q", got, StepClip)
	}
	if got := StepOf(errors.New("plain")); got != "" {
		t.Errorf("StepOf(plain) = %q, want empty", got)
	}
	if got := err.Error(); got != "site 1: clip: boom" {
		t.Errorf("Error() = %q", got)
	}
}
