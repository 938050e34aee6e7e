package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTextfile(t *testing.T) {
	SitesTotal.WithLabelValues("ok").Inc()
	StepDuration.WithLabelValues("fill").Observe(1.5)

	path := filepath.Join(t.TempDir(), "watershed.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`watershed_sites_total{status="ok"}`,
		`watershed_step_duration_seconds_count{step="fill"}`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %s", want)
		}
	}
}
