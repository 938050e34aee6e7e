package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gosuri/uiprogress"

	"github.com/lox/watershed/internal/delineate"
	"github.com/lox/watershed/internal/httputil"
	"github.com/lox/watershed/internal/metrics"
	"github.com/lox/watershed/internal/models"
	"github.com/lox/watershed/internal/preview"
	"github.com/lox/watershed/internal/store"
	"github.com/lox/watershed/internal/tiles"
	"github.com/lox/watershed/internal/toolbox"
	"github.com/lox/watershed/internal/vector"
)

// maxTilesPerSite is the most tiles a region smaller than a degree can touch.
const maxTilesPerSite = 4

type RunCmd struct {
	PourPoints string `arg:"" type:"existingfile" help:"Pour point layer (.shp or .geojson)."`
	IDField    string `arg:"" help:"Attribute holding the unique site id."`
	Workspace  string `arg:"" type:"path" help:"Output workspace directory."`
	Lakes      string `arg:"" type:"existingfile" help:"Lake polygon layer (.shp or .geojson)."`

	Username string `env:"EARTHDATA_USERNAME" help:"Earthdata login user name."`
	Password string `env:"EARTHDATA_PASSWORD" help:"Earthdata login password."`

	Buffer       float64 `default:"0.1" help:"Region radius around each point, in degrees."`
	BufferMeters float64 `help:"Region radius in meters; overrides --buffer."`
	CellSize     float64 `default:"0.0003" help:"Resampled DEM cell size, in degrees."`
	TileURL      string  `name:"tile-url" default:"${tile_url}" help:"Base URL of the tile archive (https:// or ftp://)."`
	Whitebox     string  `default:"${whitebox}" help:"WhiteboxTools binary."`
	PointsCRS    string  `name:"points-crs" default:"EPSG:4326" help:"Coordinate reference system of the pour points and lakes."`
	TileCache    int     `default:"4" help:"Number of extracted tiles kept on disk between sites."`
	KeepTemp     bool    `help:"Keep per-site temporary files."`
	Verbose      bool    `help:"Log raster engine output."`

	Preview     string `type:"path" help:"Write a PNG preview of the output layer."`
	MetricsFile string `type:"path" help:"Write Prometheus metrics to this textfile when done."`
	Progress    bool   `help:"Show a progress bar; the log goes to --log-file."`
	LogFile     string `type:"path" help:"Append the log to this file."`
}

func (c *RunCmd) Validate() error {
	if c.TileCache < maxTilesPerSite {
		return fmt.Errorf("--tile-cache must be at least %d", maxTilesPerSite)
	}
	return nil
}

func (c *RunCmd) Run() error {
	if err := os.MkdirAll(c.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	closeLog, err := c.setupLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := delineate.Config{
		Workspace:     c.Workspace,
		BufferDegrees: c.Buffer,
		BufferMeters:  c.BufferMeters,
		CellSize:      c.CellSize,
		KeepTemp:      c.KeepTemp,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	points, lakes, err := c.readInputs()
	if err != nil {
		return err
	}
	log.Printf("run: %d pour points, %d lakes", len(points), len(lakes))

	wb := toolbox.NewWhitebox(toolbox.WithBinary(c.Whitebox), toolbox.WithVerbose(c.Verbose))
	version, err := wb.Check(ctx)
	if err != nil {
		return err
	}
	log.Printf("run: using %s", version)

	ledger, err := store.Open(filepath.Join(c.Workspace, store.DefaultName))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	run, err := ledger.StartRun(store.RunParams{
		PourPoints:    c.PourPoints,
		IDField:       c.IDField,
		Lakes:         c.Lakes,
		Workspace:     c.Workspace,
		BufferDegrees: c.Buffer,
		BufferMeters:  c.BufferMeters,
		CellSize:      c.CellSize,
		Sites:         len(points),
	})
	if err != nil {
		return err
	}
	log.Printf("run: started %s", run.ID)

	source, err := c.tileSource()
	if err != nil {
		return err
	}
	tileStore, err := tiles.NewStore(source, filepath.Join(c.Workspace, "tiles"),
		tiles.WithCacheSize(c.TileCache),
		tiles.WithDownloadHook(func(d tiles.Download) {
			if err := ledger.RecordTileDownload(run.ID, d); err != nil {
				log.Printf("run: ledger tile %s: %v", d.Tile, err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("create tile store: %w", err)
	}
	defer tileStore.Purge()

	output, err := vector.CreateOutputLayer(filepath.Join(c.Workspace, vector.OutputName))
	if err != nil {
		return fmt.Errorf("create output layer: %w", err)
	}
	defer output.Close()

	failures, err := delineate.OpenFailureLog(filepath.Join(c.Workspace, delineate.FailureLogName))
	if err != nil {
		return err
	}
	defer failures.Close()

	options := []delineate.RunnerOption{delineate.WithLedger(ledger, run.ID)}
	if c.Progress {
		uiprogress.Start()
		bar := uiprogress.AddBar(len(points)).AppendCompleted().PrependElapsed()
		bar.PrependFunc(func(b *uiprogress.Bar) string {
			return fmt.Sprintf("site %d/%d", b.Current(), len(points))
		})
		options = append(options, delineate.WithSiteHook(func(models.SiteResult) { bar.Incr() }))
	}

	runner, err := delineate.NewRunner(cfg, wb, tileStore, lakes, output, failures, options...)
	if err != nil {
		return err
	}
	summary := runner.Run(ctx, points)
	if c.Progress {
		uiprogress.Stop()
	}

	interrupted := ctx.Err() != nil
	if err := ledger.CompleteRun(run, summary, interrupted); err != nil {
		log.Printf("run: complete ledger: %v", err)
	}
	if err := output.Close(); err != nil {
		return fmt.Errorf("close output layer: %w", err)
	}

	if c.Preview != "" && output.Polygons() > 0 {
		if err := preview.WritePNG(c.Preview, output.Path(), preview.DefaultWidth); err != nil {
			log.Printf("run: preview: %v", err)
		} else {
			log.Printf("run: wrote preview %s", c.Preview)
		}
	}
	if c.MetricsFile != "" {
		if err := metrics.WriteTextfile(c.MetricsFile); err != nil {
			log.Printf("run: metrics: %v", err)
		}
	}

	log.Printf("run: %s wrote %d polygons to %s", run.ID, output.Polygons(), output.Path())
	if summary.Failed > 0 {
		log.Printf("run: %d failed sites appended to %s", summary.Failed, failures.Path())
	}
	if interrupted {
		return errors.New("interrupted")
	}
	return nil
}

// setupLogging sends the log to --log-file when set, and keeps stderr free
// for the progress bar.
func (c *RunCmd) setupLogging() (func(), error) {
	path := c.LogFile
	if path == "" && c.Progress {
		path = filepath.Join(c.Workspace, "watershed.log")
	}
	if path == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	if c.Progress {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

// readInputs reads the pour points and lakes, which share --points-crs, and
// brings both to lon/lat.
func (c *RunCmd) readInputs() ([]models.PourPoint, vector.Lakes, error) {
	points, err := vector.ReadPourPoints(c.PourPoints, c.IDField)
	if err != nil {
		return nil, nil, fmt.Errorf("read pour points: %w", err)
	}
	lakes, err := vector.ReadLakes(c.Lakes)
	if err != nil {
		return nil, nil, fmt.Errorf("read lakes: %w", err)
	}
	if c.PointsCRS == "" || c.PointsCRS == "EPSG:4326" {
		return points, lakes, nil
	}

	reprojector, err := vector.NewReprojector(c.PointsCRS)
	if err != nil {
		return nil, nil, err
	}
	defer reprojector.Close()
	if err := reprojector.Points(points); err != nil {
		return nil, nil, fmt.Errorf("reproject pour points: %w", err)
	}
	if err := reprojector.Lakes(lakes); err != nil {
		return nil, nil, fmt.Errorf("reproject lakes: %w", err)
	}
	return points, lakes, nil
}

func (c *RunCmd) tileSource() (tiles.Source, error) {
	u, err := url.Parse(c.TileURL)
	if err != nil {
		return nil, fmt.Errorf("parse tile url: %w", err)
	}

	switch u.Scheme {
	case "ftp":
		return tiles.NewFTPSource(c.TileURL)
	case "http", "https":
		if c.Username == "" {
			return tiles.NewHTTPSource(httputil.NewClient(), c.TileURL), nil
		}
		client, err := httputil.NewSessionClient(httputil.EarthdataLoginHost, c.Username, c.Password)
		if err != nil {
			return nil, err
		}
		return tiles.NewHTTPSource(client, c.TileURL), nil
	default:
		return nil, fmt.Errorf("unsupported tile url scheme %q", u.Scheme)
	}
}
