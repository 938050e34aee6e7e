// Package srtm names and validates SRTMGL1 one-degree elevation tiles.
package srtm

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/lox/watershed/internal/models"
)

const (
	ArchiveSuffix = ".SRTMGL1.hgt.zip"
	HGTSuffix     = ".hgt"
)

var errBadTileName = errors.New("bad tile name")

// A Tile is a one-degree cell identified by the integer longitude and
// latitude of its south-west corner.
type Tile struct {
	Lon int
	Lat int
}

// TileFor returns the tile containing lon, lat.
func TileFor(lon, lat float64) Tile {
	return Tile{
		Lon: int(math.Floor(lon)),
		Lat: int(math.Floor(lat)),
	}
}

// Name returns the compass-prefixed tile token, e.g. N37W122 or S01E005.
func (t Tile) Name() string {
	ns, ew := byte('N'), byte('E')
	if t.Lat < 0 {
		ns = 'S'
	}
	if t.Lon < 0 {
		ew = 'W'
	}
	return fmt.Sprintf("%c%02d%c%03d", ns, abs(t.Lat), ew, abs(t.Lon))
}

func (t Tile) String() string {
	return t.Name()
}

// ArchiveName returns the name of the remote zip archive holding t.
func (t Tile) ArchiveName() string {
	return t.Name() + ArchiveSuffix
}

// HGTName returns the name of the elevation file inside t's archive.
func (t Tile) HGTName() string {
	return t.Name() + HGTSuffix
}

// Extent returns the area covered by t.
func (t Tile) Extent() models.Extent {
	return models.Extent{
		MinX: float64(t.Lon),
		MinY: float64(t.Lat),
		MaxX: float64(t.Lon + 1),
		MaxY: float64(t.Lat + 1),
	}
}

// ParseTileName parses a token produced by Name.
func ParseTileName(name string) (Tile, error) {
	if len(name) != 7 {
		return Tile{}, fmt.Errorf("%w: %q", errBadTileName, name)
	}
	lat, err := strconv.Atoi(name[1:3])
	if err != nil {
		return Tile{}, fmt.Errorf("%w: %q", errBadTileName, name)
	}
	lon, err := strconv.Atoi(name[4:7])
	if err != nil {
		return Tile{}, fmt.Errorf("%w: %q", errBadTileName, name)
	}
	switch name[0] {
	case 'N':
	case 'S':
		lat = -lat
	default:
		return Tile{}, fmt.Errorf("%w: %q", errBadTileName, name)
	}
	switch name[3] {
	case 'E':
	case 'W':
		lon = -lon
	default:
		return Tile{}, fmt.Errorf("%w: %q", errBadTileName, name)
	}
	if lat < -90 || lat > 89 || lon < -180 || lon > 179 {
		return Tile{}, fmt.Errorf("%w: %q out of range", errBadTileName, name)
	}
	return Tile{Lon: lon, Lat: lat}, nil
}

// TilesForExtent returns the tiles touched by the corners of e, ordered by
// longitude then latitude, without duplicates.
func TilesForExtent(e models.Extent) []Tile {
	lons := uniqueFloors(e.MinX, e.MaxX)
	lats := uniqueFloors(e.MinY, e.MaxY)
	tiles := make([]Tile, 0, len(lons)*len(lats))
	for _, lon := range lons {
		for _, lat := range lats {
			tiles = append(tiles, Tile{Lon: lon, Lat: lat})
		}
	}
	return tiles
}

func uniqueFloors(a, b float64) []int {
	values := []int{int(math.Floor(a)), int(math.Floor(b))}
	slices.Sort(values)
	return slices.Compact(values)
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
