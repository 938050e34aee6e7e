package vector

import (
	"fmt"
	"os"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb"
)

// WGS84 is the projection written next to every shapefile this package
// creates; pour points are reprojected to it before processing.
const WGS84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

type regionRecord struct {
	geom.Polygon
	SiteID int `shp:"id_site"`
}

// LakeIDField is the attribute of lake shapefiles holding Lake.ID.
const LakeIDField = "lake_id"

type lakeRecord struct {
	geom.Polygon
	LakeID int `shp:"lake_id"`
}

// WriteRegion writes the region of a site as a single-feature polygon
// shapefile, used as the clipping template.
func WriteRegion(path string, siteID int, region Region) error {
	e, err := shp.NewEncoder(path, regionRecord{})
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	err = e.Encode(regionRecord{Polygon: toGeomPolygon([]orb.Ring{region.Ring}), SiteID: siteID})
	e.Close()
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WritePrj(path)
}

// WriteLakes writes lakes as a polygon shapefile whose lake_id field carries
// the value burnt into the pour-point raster.
func WriteLakes(path string, lakes Lakes) error {
	e, err := shp.NewEncoder(path, lakeRecord{})
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	for _, lake := range lakes {
		if err := e.Encode(lakeRecord{Polygon: toGeomPolygon(lake.Rings), LakeID: lake.ID}); err != nil {
			e.Close()
			return fmt.Errorf("encode %s: %w", path, err)
		}
	}
	e.Close()
	return WritePrj(path)
}

// WritePrj writes the WGS84 .prj sidecar of the shapefile at path.
func WritePrj(path string) error {
	return os.WriteFile(sidecar(path, ".prj"), []byte(WGS84), 0o644)
}

// ShapefileParts lists every file making up the shapefile at path.
func ShapefileParts(path string) []string {
	var parts []string
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj", ".cpg", ".shp.xml"} {
		parts = append(parts, sidecar(path, ext))
	}
	return parts
}

// RemoveShapefile deletes every part of the shapefile at path that exists.
func RemoveShapefile(path string) error {
	for _, part := range ShapefileParts(path) {
		if err := os.Remove(part); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func sidecar(path, ext string) string {
	return strings.TrimSuffix(path, ".shp") + ext
}
