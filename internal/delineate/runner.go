package delineate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/ctessum/geom"
	"github.com/go-playground/validator/v10"

	"github.com/lox/watershed/internal/metrics"
	"github.com/lox/watershed/internal/models"
	"github.com/lox/watershed/internal/srtm"
	"github.com/lox/watershed/internal/toolbox"
	"github.com/lox/watershed/internal/vector"
)

var validate = validator.New()

// Config holds the per-run pipeline settings.
type Config struct {
	Workspace     string  `validate:"required"`
	BufferDegrees float64 `validate:"gt=0,lte=1"`
	BufferMeters  float64 `validate:"gte=0,lte=100000"` // Overrides BufferDegrees when set.
	CellSize      float64 `validate:"gt=0,lt=1"`
	KeepTemp      bool
}

// DefaultConfig matches the parameters of the original tool.
func DefaultConfig(workspace string) Config {
	return Config{
		Workspace:     workspace,
		BufferDegrees: 0.1,
		CellSize:      0.0003,
	}
}

func (c Config) Validate() error {
	return validate.Struct(c)
}

// TileProvider returns the local path of an extracted elevation tile.
type TileProvider interface {
	Get(ctx context.Context, tile srtm.Tile) (string, error)
}

// Ledger records site outcomes.
type Ledger interface {
	RecordSite(runID string, result models.SiteResult) error
}

type Runner struct {
	cfg      Config
	toolbox  toolbox.Toolbox
	tiles    TileProvider
	lakes    vector.Lakes
	output   *vector.OutputLayer
	failures *FailureLog
	ledger   Ledger
	runID    string
	onSite   func(models.SiteResult)
}

type RunnerOption func(*Runner)

// WithLedger records every site result under runID.
func WithLedger(ledger Ledger, runID string) RunnerOption {
	return func(r *Runner) {
		r.ledger = ledger
		r.runID = runID
	}
}

// WithSiteHook calls f after each site, including skipped ones.
func WithSiteHook(f func(models.SiteResult)) RunnerOption {
	return func(r *Runner) {
		r.onSite = f
	}
}

func NewRunner(cfg Config, tb toolbox.Toolbox, tiles TileProvider, lakes vector.Lakes, output *vector.OutputLayer, failures *FailureLog, options ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	r := &Runner{
		cfg:      cfg,
		toolbox:  tb,
		tiles:    tiles,
		lakes:    lakes,
		output:   output,
		failures: failures,
	}
	for _, option := range options {
		option(r)
	}
	return r, nil
}

// Run processes points one after another. A failed site is logged, added to
// the failure log and skipped over; once ctx is cancelled the remaining sites
// are reported as skipped.
func (r *Runner) Run(ctx context.Context, points []models.PourPoint) models.Summary {
	summary := models.Summary{RunID: r.runID}

	for i, p := range points {
		var result models.SiteResult
		if ctx.Err() != nil {
			result = models.SiteResult{SiteID: p.SiteID, Status: models.SiteSkipped, Err: ctx.Err()}
		} else {
			log.Printf("delineate: site %d (%d/%d) at %.6f, %.6f", p.SiteID, i+1, len(points), p.X, p.Y)
			result = r.process(ctx, p)
		}
		r.finish(result)
		summary.Add(result)
	}

	log.Printf("delineate: %d sites processed, %d succeeded, %d failed, %d skipped",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped)
	return summary
}

func (r *Runner) finish(result models.SiteResult) {
	metrics.SitesTotal.WithLabelValues(string(result.Status)).Inc()

	switch result.Status {
	case models.SiteOK:
		log.Printf("delineate: site %d done, %d polygons in %s", result.SiteID, result.Polygons, result.Duration.Round(time.Millisecond))
	case models.SiteFailed:
		metrics.SiteFailuresByStep.WithLabelValues(result.Step).Inc()
		log.Printf("delineate: site %d failed at %s: %s", result.SiteID, result.Step, FailureDetail(result.Err))
		if r.failures != nil {
			if err := r.failures.Add(result.SiteID); err != nil {
				log.Printf("delineate: record failure of site %d: %v", result.SiteID, err)
			}
		}
	case models.SiteSkipped:
		log.Printf("delineate: site %d skipped: %v", result.SiteID, result.Err)
	}

	if r.ledger != nil {
		if err := r.ledger.RecordSite(r.runID, result); err != nil {
			log.Printf("delineate: ledger site %d: %v", result.SiteID, err)
		}
	}
	if r.onSite != nil {
		r.onSite(result)
	}
}

// ProcessSite delineates the watershed of p and appends it to the output
// layer. Failures are returned as *StepError.
func (r *Runner) ProcessSite(ctx context.Context, p models.PourPoint) error {
	return r.process(ctx, p).Err
}

// site is the state of one pour point moving through the pipeline.
type site struct {
	point    models.PourPoint
	dir      string
	step     string
	tiles    []string
	polygons int
}

func (s *site) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (r *Runner) process(ctx context.Context, p models.PourPoint) (result models.SiteResult) {
	start := time.Now()
	s := &site{
		point: p,
		dir:   filepath.Join(r.cfg.Workspace, fmt.Sprintf("site_%d", p.SiteID)),
	}

	defer func() {
		result.SiteID = p.SiteID
		result.Tiles = s.tiles
		result.Polygons = s.polygons
		result.Duration = time.Since(start)
		switch {
		case result.Err == nil:
			result.Status = models.SiteOK
		case ctx.Err() != nil && errors.Is(result.Err, ctx.Err()):
			result.Status = models.SiteSkipped
			result.Step = s.step
		default:
			result.Status = models.SiteFailed
			result.Step = s.step
		}
	}()

	defer func() {
		if r.cfg.KeepTemp {
			return
		}
		if err := os.RemoveAll(s.dir); err != nil {
			log.Printf("delineate: remove %s: %v", s.dir, err)
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			result.Err = &StepError{
				Site:  p.SiteID,
				Step:  s.step,
				Err:   fmt.Errorf("panic: %v", rec),
				Stack: debug.Stack(),
			}
		}
	}()

	if err := os.RemoveAll(s.dir); err != nil {
		return models.SiteResult{Err: &StepError{Site: p.SiteID, Step: StepRegion, Err: err}}
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return models.SiteResult{Err: &StepError{Site: p.SiteID, Step: StepRegion, Err: err}}
	}

	return models.SiteResult{Err: r.delineate(ctx, s)}
}

// step runs fn as the named step of s.
func (r *Runner) step(s *site, name string, fn func() error) error {
	s.step = name
	start := time.Now()
	err := fn()
	metrics.StepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return &StepError{Site: s.point.SiteID, Step: name, Err: err}
	}
	return nil
}

func (r *Runner) delineate(ctx context.Context, s *site) error {
	var (
		region      vector.Region
		regionPath  = s.path("region.shp")
		dems        []string
		dem         string
		clipped     = s.path("clipped.tif")
		resampled   = s.path("resampled.tif")
		filled      = s.path("filled.tif")
		flowDir     = s.path("flowdir.tif")
		lakePath    = s.path("lake.shp")
		lakeRaster  = s.path("lake.tif")
		basin       = s.path("watershed.tif")
		basinShapes = s.path("watershed.shp")
		polys       []geom.Polygon
	)

	steps := []struct {
		name string
		fn   func() error
	}{
		{StepRegion, func() error {
			var err error
			region, err = r.region(s.point)
			if err != nil {
				return err
			}
			return vector.WriteRegion(regionPath, s.point.SiteID, region)
		}},
		{StepTiles, func() error {
			for _, tile := range srtm.TilesForExtent(region.Extent) {
				path, err := r.tiles.Get(ctx, tile)
				if err != nil {
					return fmt.Errorf("tile %s: %w", tile, err)
				}
				s.tiles = append(s.tiles, tile.Name())
				dems = append(dems, path)
			}
			dem = dems[0]
			return nil
		}},
		{StepMosaic, func() error {
			if len(dems) < 2 {
				return nil
			}
			dem = s.path("mosaic.tif")
			return r.toolbox.Mosaic(ctx, dems, dem)
		}},
		{StepClip, func() error {
			if err := r.toolbox.Clip(ctx, dem, regionPath, clipped); err != nil {
				return err
			}
			info, err := toolbox.Describe(clipped)
			if err != nil {
				return err
			}
			log.Printf("delineate: site %d clipped DEM %s", s.point.SiteID, info)
			return nil
		}},
		{StepResample, func() error {
			return r.toolbox.Resample(ctx, clipped, resampled, r.cfg.CellSize)
		}},
		{StepFill, func() error {
			return r.toolbox.Fill(ctx, resampled, filled)
		}},
		{StepFlowDir, func() error {
			return r.toolbox.FlowDirection(ctx, filled, flowDir)
		}},
		{StepLake, func() error {
			lakes := r.lakes.Containing(s.point.X, s.point.Y)
			if len(lakes) == 0 {
				return vector.ErrNoLake
			}
			return vector.WriteLakes(lakePath, lakes)
		}},
		{StepRasterize, func() error {
			return r.toolbox.Rasterize(ctx, lakePath, vector.LakeIDField, filled, lakeRaster)
		}},
		{StepWatershed, func() error {
			return r.toolbox.Watershed(ctx, flowDir, lakeRaster, basin)
		}},
		{StepPolygonize, func() error {
			if err := r.toolbox.Polygonize(ctx, basin, basinShapes); err != nil {
				return err
			}
			var err error
			polys, err = vector.ReadPolygons(basinShapes)
			if err != nil {
				return err
			}
			if len(polys) == 0 {
				return errNoPolygons
			}
			return nil
		}},
		{StepAppend, func() error {
			if err := r.output.Append(s.point.SiteID, polys); err != nil {
				return err
			}
			s.polygons = len(polys)
			metrics.PolygonsWritten.Add(float64(len(polys)))
			return nil
		}},
	}

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Site: s.point.SiteID, Step: st.name, Err: err}
		}
		if err := r.step(s, st.name, st.fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) region(p models.PourPoint) (vector.Region, error) {
	if r.cfg.BufferMeters > 0 {
		return vector.RegionInMeters(p, r.cfg.BufferMeters)
	}
	return vector.RegionInDegrees(p, r.cfg.BufferDegrees), nil
}
