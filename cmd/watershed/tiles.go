package main

import (
	"fmt"
	"io"
	"os"

	"github.com/lox/watershed/internal/models"
	"github.com/lox/watershed/internal/srtm"
	"github.com/lox/watershed/internal/tiles"
	"github.com/lox/watershed/internal/vector"
)

type TilesCmd struct {
	Lon float64 `arg:"" help:"Longitude in degrees (use -- before negative values)."`
	Lat float64 `arg:"" help:"Latitude in degrees."`

	Buffer       float64 `default:"0.1" help:"Region radius around the point, in degrees."`
	BufferMeters float64 `help:"Region radius in meters; overrides --buffer."`
	TileURL      string  `name:"tile-url" default:"${tile_url}" help:"Base URL used to print download links."`
}

func (c *TilesCmd) Run() error {
	return c.print(os.Stdout)
}

func (c *TilesCmd) print(w io.Writer) error {
	point := models.PourPoint{X: c.Lon, Y: c.Lat}

	region := vector.RegionInDegrees(point, c.Buffer)
	if c.BufferMeters > 0 {
		var err error
		region, err = vector.RegionInMeters(point, c.BufferMeters)
		if err != nil {
			return err
		}
	}

	source := tiles.NewHTTPSource(nil, c.TileURL)
	fmt.Fprintf(w, "region %s\n", region.Extent)
	for _, tile := range srtm.TilesForExtent(region.Extent) {
		fmt.Fprintf(w, "%s %s\n", tile.Name(), source.URL(tile))
	}
	return nil
}
