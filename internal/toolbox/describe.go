package toolbox

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"

	"github.com/lox/watershed/internal/models"
)

// ErrEmptyRaster is returned for a raster without any cells.
var ErrEmptyRaster = errors.New("empty raster")

// geoTIFFHeader is the subset of the first IFD needed to place a raster.
type geoTIFFHeader struct {
	ImageWidth         uint32    `tiff:"field,tag=256"`
	ImageLength        uint32    `tiff:"field,tag=257"`
	BitsPerSample      uint16    `tiff:"field,tag=258"`
	SampleFormat       uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag   []float64 `tiff:"field,tag=33922"`
	GDALNoData         string    `tiff:"field,tag=42113"`
}

// RasterInfo describes a GeoTIFF produced by the engine.
type RasterInfo struct {
	Width         int
	Height        int
	BitsPerSample int
	CellSizeX     float64
	CellSizeY     float64
	OriginX       float64 // Upper-left corner.
	OriginY       float64
	NoData        string
}

// Extent returns the area covered by the raster.
func (r *RasterInfo) Extent() models.Extent {
	return models.Extent{
		MinX: r.OriginX,
		MinY: r.OriginY - float64(r.Height)*r.CellSizeY,
		MaxX: r.OriginX + float64(r.Width)*r.CellSizeX,
		MaxY: r.OriginY,
	}
}

func (r *RasterInfo) String() string {
	return fmt.Sprintf("%dx%d cells of %gx%g, extent %s", r.Width, r.Height, r.CellSizeX, r.CellSizeY, r.Extent())
}

// Describe reads the header of the GeoTIFF at path.
func Describe(path string) (*RasterInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := tiff.Parse(f, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(t.IFDs()) == 0 {
		return nil, fmt.Errorf("%s: no image file directory", path)
	}

	var h geoTIFFHeader
	if err := tiff.UnmarshalIFD(t.IFDs()[0], &h); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if h.ImageWidth == 0 || h.ImageLength == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyRaster)
	}

	info := &RasterInfo{
		Width:         int(h.ImageWidth),
		Height:        int(h.ImageLength),
		BitsPerSample: int(h.BitsPerSample),
		NoData:        h.GDALNoData,
	}
	if len(h.ModelPixelScaleTag) >= 2 {
		info.CellSizeX, info.CellSizeY = h.ModelPixelScaleTag[0], h.ModelPixelScaleTag[1]
	}
	if len(h.ModelTiepointTag) >= 6 {
		// Tiepoint (i, j, k) -> (x, y, z); the engine always ties cell (0, 0).
		info.OriginX = h.ModelTiepointTag[3] - h.ModelTiepointTag[0]*info.CellSizeX
		info.OriginY = h.ModelTiepointTag[4] + h.ModelTiepointTag[1]*info.CellSizeY
	}
	return info, nil
}
