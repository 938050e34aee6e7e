package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watershed_tile_downloads_total",
			Help: "Total elevation tile downloads",
		},
		[]string{"source", "status"},
	)

	TileDownloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watershed_tile_download_bytes_total",
			Help: "Total bytes of elevation tile archives downloaded",
		},
		[]string{"source"},
	)

	TileDownloadLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watershed_tile_download_latency_seconds",
			Help:    "Elevation tile download latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"source"},
	)

	TileCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watershed_tile_cache_hits_total",
			Help: "Total tile requests served from the extracted tile cache",
		},
	)

	TileCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watershed_tile_cache_evictions_total",
			Help: "Total extracted tiles evicted and deleted from disk",
		},
	)

	SitesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watershed_sites_total",
			Help: "Total pour points processed",
		},
		[]string{"status"},
	)

	SiteFailuresByStep = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watershed_site_failures_total",
			Help: "Total site failures by pipeline step",
		},
		[]string{"step"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watershed_step_duration_seconds",
			Help:    "Duration of each pipeline step in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"step"},
	)

	PolygonsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watershed_polygons_written_total",
			Help: "Total watershed polygons appended to the output layer",
		},
	)
)

// WriteTextfile writes every registered metric to path in the Prometheus
// text format, for collection by a node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
