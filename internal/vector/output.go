package vector

import (
	"fmt"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

// OutputName is the file name of the accumulated watershed layer.
const OutputName = "watersheds.shp"

type watershedRecord struct {
	geom.Polygon
	SiteID int `shp:"id_site"`
}

// An OutputLayer is the single polygon layer every site's watersheds are
// appended to. It is created empty, overwriting any previous layer, and
// stays open for the whole run.
type OutputLayer struct {
	mu       sync.Mutex
	path     string
	encoder  *shp.Encoder
	polygons int
	sites    map[int]int
	closed   bool
}

// CreateOutputLayer creates the layer at path.
func CreateOutputLayer(path string) (*OutputLayer, error) {
	if err := RemoveShapefile(path); err != nil {
		return nil, fmt.Errorf("remove previous %s: %w", path, err)
	}
	e, err := shp.NewEncoder(path, watershedRecord{})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := WritePrj(path); err != nil {
		e.Close()
		return nil, err
	}
	return &OutputLayer{path: path, encoder: e, sites: make(map[int]int)}, nil
}

// Append tags polys with siteID and writes them to the layer.
func (o *OutputLayer) Append(siteID int, polys []geom.Polygon) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("append to closed layer %s", o.path)
	}
	for _, poly := range polys {
		if err := o.encoder.Encode(watershedRecord{Polygon: poly, SiteID: siteID}); err != nil {
			return fmt.Errorf("append site %d: %w", siteID, err)
		}
		o.polygons++
		o.sites[siteID]++
	}
	return nil
}

func (o *OutputLayer) Path() string {
	return o.path
}

// Polygons returns how many polygons have been appended.
func (o *OutputLayer) Polygons() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.polygons
}

// Close flushes the layer to disk.
func (o *OutputLayer) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.encoder.Close()
	return nil
}

// A Watershed is one record of a finished output layer.
type Watershed struct {
	SiteID  int
	Polygon geom.Polygon
}

// ReadWatersheds reads back a layer written by OutputLayer.
func ReadWatersheds(path string) ([]Watershed, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer d.Close()

	var watersheds []Watershed
	for {
		var rec watershedRecord
		if more := d.DecodeRow(&rec); !more {
			break
		}
		watersheds = append(watersheds, Watershed{SiteID: rec.SiteID, Polygon: rec.Polygon})
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return watersheds, nil
}
