package store

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

// StoreFailureDetail stores the gzip-compressed failure description of a
// site, replacing any earlier one for the same run and site.
func (s *Store) StoreFailureDetail(runID string, siteID int, detail []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(detail); err != nil {
		return fmt.Errorf("compress failure detail: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(detail)

	_, err := s.db.Exec(`
		INSERT INTO failure_details (run_id, site_id, recorded_at, detail_compressed, detail_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, site_id) DO UPDATE SET
			recorded_at = excluded.recorded_at,
			detail_compressed = excluded.detail_compressed,
			detail_hash = excluded.detail_hash
	`, runID, siteID, time.Now().UTC(), buf.Bytes(), hex.EncodeToString(hash[:]))
	if err != nil {
		return fmt.Errorf("insert failure detail: %w", err)
	}
	return nil
}

// FailureDetail returns the decompressed failure description of a site, or
// nil if none was stored.
func (s *Store) FailureDetail(runID string, siteID int) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT detail_compressed FROM failure_details WHERE run_id = ? AND site_id = ?`, runID, siteID).
		Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
