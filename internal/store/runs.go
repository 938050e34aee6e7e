package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lox/watershed/internal/models"
	"github.com/lox/watershed/internal/tiles"
)

// RunParams are the inputs of a run, kept for later reporting.
type RunParams struct {
	PourPoints    string
	IDField       string
	Lakes         string
	Workspace     string
	BufferDegrees float64
	BufferMeters  float64
	CellSize      float64
	Sites         int
}

// Run is one invocation of the pipeline over a pour-point layer.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  sql.NullTime
	Params      RunParams
	Succeeded   sql.NullInt64
	Failed      sql.NullInt64
	Skipped     sql.NullInt64
	Interrupted bool
}

// SiteRun is the recorded outcome of one site within a run.
type SiteRun struct {
	RunID        string
	SiteID       int
	Status       models.SiteStatus
	Step         sql.NullString
	ErrorMessage sql.NullString
	Tiles        []string
	Polygons     int
	Duration     time.Duration
	RecordedAt   time.Time
}

// StartRun creates a new run record with a fresh id.
func (s *Store) StartRun(p RunParams) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Params:    p,
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, pour_points, id_field, lakes, workspace, buffer_degrees, buffer_meters, cell_size, sites_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, p.PourPoints, p.IDField, p.Lakes, p.Workspace, p.BufferDegrees, p.BufferMeters, p.CellSize, p.Sites)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// CompleteRun stores the final counts of run.
func (s *Store) CompleteRun(run *Run, summary models.Summary, interrupted bool) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.Succeeded = sql.NullInt64{Int64: int64(summary.Succeeded), Valid: true}
	run.Failed = sql.NullInt64{Int64: int64(summary.Failed), Valid: true}
	run.Skipped = sql.NullInt64{Int64: int64(summary.Skipped), Valid: true}
	run.Interrupted = interrupted

	_, err := s.db.Exec(`
		UPDATE runs SET
			finished_at = ?,
			sites_succeeded = ?,
			sites_failed = ?,
			sites_skipped = ?,
			interrupted = ?
		WHERE id = ?
	`, run.FinishedAt, run.Succeeded, run.Failed, run.Skipped, run.Interrupted, run.ID)
	return err
}

// RecordSite stores the outcome of one site. Failures with a detailed
// description (such as a recovered stack) also get a compressed failure
// detail record.
func (s *Store) RecordSite(runID string, r models.SiteResult) error {
	var step, message sql.NullString
	if r.Step != "" {
		step = sql.NullString{String: r.Step, Valid: true}
	}
	if r.Err != nil {
		message = sql.NullString{String: r.Err.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO site_runs (run_id, site_id, status, step, error_message, tiles, polygons, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, site_id) DO UPDATE SET
			status = excluded.status,
			step = excluded.step,
			error_message = excluded.error_message,
			tiles = excluded.tiles,
			polygons = excluded.polygons,
			duration_ms = excluded.duration_ms,
			recorded_at = excluded.recorded_at
	`, runID, r.SiteID, string(r.Status), step, message, strings.Join(r.Tiles, ","), r.Polygons, r.Duration.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert site run: %w", err)
	}

	if r.Status != models.SiteFailed {
		return nil
	}
	var detailed interface{ Detail() string }
	if errors.As(r.Err, &detailed) {
		if err := s.StoreFailureDetail(runID, r.SiteID, []byte(detailed.Detail())); err != nil {
			return err
		}
	}
	return nil
}

// RecordTileDownload stores one tile archive fetch. runID may be empty for
// downloads outside a run.
func (s *Store) RecordTileDownload(runID string, d tiles.Download) error {
	var run, message sql.NullString
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}
	if d.Err != nil {
		message = sql.NullString{String: d.Err.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO tile_downloads (run_id, tile, source, bytes, duration_ms, success, error_message, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run, d.Tile.Name(), d.Source, d.Bytes, d.Duration.Milliseconds(), d.Err == nil, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert tile download: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, pour_points, id_field, lakes, workspace,
	buffer_degrees, buffer_meters, cell_size, sites_total,
	sites_succeeded, sites_failed, sites_skipped, interrupted`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Params.PourPoints, &r.Params.IDField,
		&r.Params.Lakes, &r.Params.Workspace, &r.Params.BufferDegrees, &r.Params.BufferMeters,
		&r.Params.CellSize, &r.Params.Sites, &r.Succeeded, &r.Failed, &r.Skipped, &r.Interrupted)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRun returns the most recently started run, or nil if there is none.
func (s *Store) LatestRun() (*Run, error) {
	row := s.db.QueryRow(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// GetRun returns the run with id, or nil if there is none.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// RunSummaries returns the limit most recent runs, newest first.
func (s *Store) RunSummaries(limit int) ([]Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// FailedSites returns the failed sites of runID in site id order.
func (s *Store) FailedSites(runID string) ([]SiteRun, error) {
	rows, err := s.db.Query(`
		SELECT run_id, site_id, status, step, error_message, tiles, polygons, duration_ms, recorded_at
		FROM site_runs
		WHERE run_id = ? AND status = ?
		ORDER BY site_id
	`, runID, string(models.SiteFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []SiteRun
	for rows.Next() {
		var (
			sr       SiteRun
			status   string
			tileList string
			ms       int64
		)
		if err := rows.Scan(&sr.RunID, &sr.SiteID, &status, &sr.Step, &sr.ErrorMessage,
			&tileList, &sr.Polygons, &ms, &sr.RecordedAt); err != nil {
			return nil, err
		}
		sr.Status = models.SiteStatus(status)
		if tileList != "" {
			sr.Tiles = strings.Split(tileList, ",")
		}
		sr.Duration = time.Duration(ms) * time.Millisecond
		sites = append(sites, sr)
	}
	return sites, rows.Err()
}

// DownloadStats summarises the tile downloads of a run.
type DownloadStats struct {
	Succeeded int
	Failed    int
	Bytes     int64
}

func (s *Store) DownloadStats(runID string) (DownloadStats, error) {
	var stats DownloadStats
	err := s.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN NOT success THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(bytes), 0)
		FROM tile_downloads
		WHERE run_id = ?
	`, runID).Scan(&stats.Succeeded, &stats.Failed, &stats.Bytes)
	return stats, err
}
