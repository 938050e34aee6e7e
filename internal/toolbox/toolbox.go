// Package toolbox drives the external raster engine that performs the
// hydrology: mosaicking, clipping, resampling, depression filling, D8 flow
// direction, watershed labelling and polygonization.
package toolbox

import "context"

// A Toolbox runs raster operations on files. Every method reads its inputs
// from, and writes its output to, the given paths.
type Toolbox interface {
	// Mosaic merges several DEM tiles into one raster.
	Mosaic(ctx context.Context, inputs []string, output string) error
	// Clip clips raster to the polygons of a shapefile.
	Clip(ctx context.Context, raster, polygons, output string) error
	// Resample resamples raster to cellSize map units.
	Resample(ctx context.Context, raster, output string, cellSize float64) error
	// Fill removes depressions from a DEM.
	Fill(ctx context.Context, dem, output string) error
	// FlowDirection computes D8 flow directions with ESRI codes.
	FlowDirection(ctx context.Context, dem, output string) error
	// Rasterize burns the field of polygons onto the grid of base.
	Rasterize(ctx context.Context, polygons, field, base, output string) error
	// Watershed labels every cell by the pour cell it drains to.
	Watershed(ctx context.Context, flowDirection, pourPoints, output string) error
	// Polygonize converts a categorical raster to a polygon shapefile.
	Polygonize(ctx context.Context, raster, output string) error
}
