// Package preview renders quicklook images of a watershed layer.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"strconv"

	"github.com/hsluv/hsluv-go"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	xvector "golang.org/x/image/vector"

	"github.com/lox/watershed/internal/models"
	"github.com/lox/watershed/internal/vector"
)

const (
	DefaultWidth = 1024
	margin       = 16
)

var (
	background = color.RGBA{20, 24, 36, 255}
	labelColor = color.RGBA{240, 240, 240, 255}

	errNothingToDraw = errors.New("no watersheds to draw")
)

// SiteColor returns the fill colour of a site. Hues are spread by the golden
// angle so that neighbouring ids differ, at constant HSLuv lightness.
func SiteColor(siteID int) color.RGBA {
	hue := math.Mod(float64(siteID)*137.508, 360)
	if hue < 0 {
		hue += 360
	}
	r, g, b := hsluv.HsluvToRGB(hue, 75, 60)
	return color.RGBA{clamp8(r), clamp8(g), clamp8(b), 255}
}

func clamp8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// frame maps map coordinates onto image pixels.
type frame struct {
	extent models.Extent
	scale  float64
	width  int
	height int
}

// newFrame fits extent inside a square of size pixels, margins included.
func newFrame(extent models.Extent, size int) frame {
	inner := float64(size - 2*margin)
	w, h := extent.Width(), extent.Height()
	if w <= 0 {
		w = 1e-9
	}
	if h <= 0 {
		h = 1e-9
	}
	scale := math.Min(inner/w, inner/h)
	return frame{
		extent: extent,
		scale:  scale,
		width:  min(int(math.Ceil(w*scale))+2*margin, size),
		height: min(int(math.Ceil(h*scale))+2*margin, size),
	}
}

func (f frame) point(x, y float64) (float32, float32) {
	px := margin + (x-f.extent.MinX)*f.scale
	py := margin + (f.extent.MaxY-y)*f.scale
	return float32(px), float32(py)
}

// Render draws every watershed filled with its site colour, labelled with
// the site id, scaled so that neither side exceeds width pixels.
func Render(watersheds []vector.Watershed, width int) (*image.RGBA, error) {
	if len(watersheds) == 0 {
		return nil, errNothingToDraw
	}
	if width <= 2*margin {
		return nil, fmt.Errorf("width %d too small", width)
	}

	extents := make(map[int]models.Extent)
	var order []int
	var total models.Extent
	for i, ws := range watersheds {
		e := vector.PolygonExtent(ws.Polygon)
		if i == 0 {
			total = e
		} else {
			total = total.Union(e)
		}
		if prev, ok := extents[ws.SiteID]; ok {
			extents[ws.SiteID] = prev.Union(e)
		} else {
			extents[ws.SiteID] = e
			order = append(order, ws.SiteID)
		}
	}

	f := newFrame(total, width)
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	for _, ws := range watersheds {
		fill(img, f, ws)
	}
	for _, id := range order {
		e := extents[id]
		x, y := f.point((e.MinX+e.MaxX)/2, (e.MinY+e.MaxY)/2)
		drawLabel(img, strconv.Itoa(id), int(x), int(y))
	}
	return img, nil
}

func fill(img *image.RGBA, f frame, ws vector.Watershed) {
	z := xvector.NewRasterizer(f.width, f.height)
	z.DrawOp = draw.Over
	for _, ring := range ws.Polygon {
		if len(ring) < 3 {
			continue
		}
		z.MoveTo(f.point(ring[0].X, ring[0].Y))
		for _, p := range ring[1:] {
			z.LineTo(f.point(p.X, p.Y))
		}
		z.ClosePath()
	}
	z.Draw(img, img.Bounds(), image.NewUniform(SiteColor(ws.SiteID)), image.Point{})
}

// drawLabel draws text centred on (x, y).
func drawLabel(img *image.RGBA, text string, x, y int) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: face,
	}
	advance := d.MeasureString(text)
	d.Dot = fixed.Point26_6{
		X: fixed.I(x) - advance/2,
		Y: fixed.I(y + face.Ascent/2),
	}
	d.DrawString(text)
}

// WritePNG renders the watersheds in the shapefile at layerPath to a PNG at
// path.
func WritePNG(path, layerPath string, width int) error {
	watersheds, err := vector.ReadWatersheds(layerPath)
	if err != nil {
		return err
	}
	img, err := Render(watersheds, width)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode preview: %w", err)
	}
	return f.Close()
}
