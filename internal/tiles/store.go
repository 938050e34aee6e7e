package tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zip"

	"github.com/lox/watershed/internal/metrics"
	"github.com/lox/watershed/internal/srtm"
)

// A Download describes one archive fetch, successful or not.
type Download struct {
	Tile     srtm.Tile
	Source   string
	Bytes    int64
	Duration time.Duration
	Err      error
}

// A Store turns tiles into extracted .hgt files in a directory, keeping the
// most recently used ones on disk so that neighbouring sites can share them.
type Store struct {
	mutex        sync.Mutex
	source       Source
	dir          string
	cache        *lru.Cache[srtm.Tile, string]
	cacheSize    int
	missingTiles sync.Map
	onDownload   func(Download)
}

type StoreOption func(*Store)

// WithCacheSize sets how many extracted tiles are kept on disk.
func WithCacheSize(cacheSize int) StoreOption {
	return func(s *Store) {
		s.cacheSize = cacheSize
	}
}

// WithDownloadHook registers f to be called after every archive fetch.
func WithDownloadHook(f func(Download)) StoreOption {
	return func(s *Store) {
		s.onDownload = f
	}
}

func NewStore(source Source, dir string, options ...StoreOption) (*Store, error) {
	s := &Store{
		source:    instrumented{source},
		dir:       dir,
		cacheSize: 4,
	}
	for _, option := range options {
		option(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var err error
	s.cache, err = lru.NewWithEvict(max(s.cacheSize, 1), func(tile srtm.Tile, path string) {
		metrics.TileCacheEvictions.Inc()
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("tiles: remove %s: %v", path, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the path of the extracted .hgt file for tile, downloading it if
// needed.
func (s *Store) Get(ctx context.Context, tile srtm.Tile) (string, error) {
	if _, ok := s.missingTiles.Load(tile); ok {
		return "", fmt.Errorf("%w: %s", ErrTileNotFound, tile)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if path, ok := s.cache.Get(tile); ok {
		if _, err := os.Stat(path); err == nil {
			metrics.TileCacheHits.Inc()
			return path, nil
		}
		s.cache.Remove(tile)
	}

	path, err := s.fetch(ctx, tile)
	if errors.Is(err, ErrTileNotFound) {
		s.missingTiles.Store(tile, struct{}{})
	}
	if err != nil {
		return "", err
	}
	s.cache.Add(tile, path)
	return path, nil
}

// fetch downloads the archive of tile into s.dir, extracts its .hgt file,
// validates it, and deletes the archive.
func (s *Store) fetch(ctx context.Context, tile srtm.Tile) (string, error) {
	start := time.Now()
	zipPath := filepath.Join(s.dir, tile.ArchiveName())
	n, err := s.download(ctx, tile, zipPath)
	if s.onDownload != nil {
		s.onDownload(Download{
			Tile:     tile,
			Source:   s.source.Name(),
			Bytes:    n,
			Duration: time.Since(start),
			Err:      err,
		})
	}
	if err != nil {
		return "", err
	}
	defer os.Remove(zipPath)

	log.Printf("tiles: downloaded %s (%d bytes)", tile.ArchiveName(), n)

	hgtPath, err := extractHGT(zipPath, s.dir, tile)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", tile.ArchiveName(), err)
	}

	info, err := srtm.StatHGT(hgtPath)
	if err != nil {
		os.Remove(hgtPath)
		return "", err
	}
	if info.AllVoid() {
		os.Remove(hgtPath)
		return "", fmt.Errorf("%s: %w: every sample is void", tile, srtm.ErrBadHGT)
	}
	return hgtPath, nil
}

func (s *Store) download(ctx context.Context, tile srtm.Tile, zipPath string) (int64, error) {
	rc, err := s.source.Fetch(ctx, tile)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	f, err := os.Create(zipPath)
	if err != nil {
		return 0, err
	}
	n, err := copyArchive(f, rc, zipPath)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("write %s: %w", zipPath, closeErr)
	}
	if err != nil {
		os.Remove(zipPath)
		return n, err
	}
	metrics.TileDownloadBytes.WithLabelValues(s.source.Name()).Add(float64(n))
	return n, nil
}

// copyArchive copies src to dst, labelling a failure by the side it came from.
func copyArchive(dst io.Writer, src io.Reader, zipPath string) (int64, error) {
	var n int64
	buf := make([]byte, 32*1024)
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			n += int64(nw)
			if werr != nil {
				return n, fmt.Errorf("write %s: %w", zipPath, werr)
			}
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, fmt.Errorf("read archive for %s: %w", zipPath, rerr)
		}
	}
}

// extractHGT extracts the .hgt member of the archive at zipPath into dir.
func extractHGT(zipPath, dir string, tile srtm.Tile) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	for _, file := range r.File {
		if !strings.EqualFold(filepath.Base(file.Name), tile.HGTName()) {
			continue
		}
		src, err := file.Open()
		if err != nil {
			return "", err
		}
		defer src.Close()

		hgtPath := filepath.Join(dir, tile.HGTName())
		dst, err := os.Create(hgtPath)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			os.Remove(hgtPath)
			return "", err
		}
		if err := dst.Close(); err != nil {
			return "", err
		}
		return hgtPath, nil
	}
	return "", fmt.Errorf("no %s in archive", tile.HGTName())
}

// Purge deletes every extracted tile still on disk.
func (s *Store) Purge() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cache.Purge()
}

// Cached returns the tiles currently on disk, least recently used first.
func (s *Store) Cached() []srtm.Tile {
	return s.cache.Keys()
}
