package preview

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"

	"github.com/lox/watershed/internal/vector"
)

func square(minX, minY, size float64) geom.Polygon {
	return geom.Polygon{{
		{X: minX, Y: minY}, {X: minX, Y: minY + size}, {X: minX + size, Y: minY + size}, {X: minX + size, Y: minY}, {X: minX, Y: minY},
	}}
}

func TestSiteColorDistinct(t *testing.T) {
	seen := make(map[[3]uint8]int)
	for id := 1; id <= 20; id++ {
		c := SiteColor(id)
		if c.A != 255 {
			t.Errorf("SiteColor(%d) alpha = %d", id, c.A)
		}
		key := [3]uint8{c.R, c.G, c.B}
		if prev, ok := seen[key]; ok {
			t.Errorf("SiteColor(%d) = SiteColor(%d) = %v", id, prev, c)
		}
		seen[key] = id
	}
	if SiteColor(-3) != SiteColor(-3) {
		t.Error("SiteColor not deterministic")
	}
}

func TestRender(t *testing.T) {
	watersheds := []vector.Watershed{
		{SiteID: 1, Polygon: square(0, 0, 1)},
		{SiteID: 2, Polygon: square(2, 0, 1)},
	}

	img, err := Render(watersheds, 332)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// 3 map units across 300 pixels, 1 unit tall.
	if got := img.Bounds().Dx(); got != 332 {
		t.Errorf("width = %d, want 332", got)
	}
	if got := img.Bounds().Dy(); got != 132 {
		t.Errorf("height = %d, want 132", got)
	}

	tests := []struct {
		name string
		x, y int
		want any
	}{
		{"site 1", margin + 20, margin + 20, SiteColor(1)},
		{"gap", margin + 150, margin + 50, background},
		{"site 2", margin + 280, margin + 80, SiteColor(2)},
		{"margin", 2, 2, background},
	}
	for _, tt := range tests {
		if got := img.RGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("%s: pixel (%d, %d) = %v, want %v", tt.name, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestRenderFitsTallAndDegenerateExtents(t *testing.T) {
	tests := []struct {
		name       string
		watersheds []vector.Watershed
	}{
		{"north-south line", []vector.Watershed{
			{SiteID: 1, Polygon: square(0, 0, 0.01)},
			{SiteID: 2, Polygon: square(0, 40, 0.01)},
		}},
		{"zero width", []vector.Watershed{
			{SiteID: 3, Polygon: geom.Polygon{{{X: 5, Y: 0}, {X: 5, Y: 1}, {X: 5, Y: 0}}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Render(tt.watersheds, 200)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if b := img.Bounds(); b.Dx() > 200 || b.Dy() > 200 {
				t.Errorf("bounds = %v, want within 200x200", b)
			}
		})
	}
}

func TestRenderEmpty(t *testing.T) {
	if _, err := Render(nil, DefaultWidth); err != errNothingToDraw {
		t.Errorf("err = %v, want errNothingToDraw", err)
	}
}

func TestWritePNG(t *testing.T) {
	dir := t.TempDir()
	layer, err := vector.CreateOutputLayer(filepath.Join(dir, vector.OutputName))
	if err != nil {
		t.Fatalf("CreateOutputLayer: %v", err)
	}
	if err := layer.Append(4, []geom.Polygon{square(-121.6, 37.4, 0.2)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := layer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := filepath.Join(dir, "preview.png")
	if err := WritePNG(out, layer.Path(), 200); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// A square layer gives a square image, give or take rounding.
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() < 199 || b.Dy() > 201 {
		t.Errorf("size = %v, want about 200x200", b)
	}
}
