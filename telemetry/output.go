package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/plasma/config"
)

// DensityRow is one vertex of a density field in density.csv.
type DensityRow struct {
	Step   int     `csv:"step"`
	Vertex int     `csv:"vertex"`
	Ne     float64 `csv:"ne"`
	Ni     float64 `csv:"ni"`
}

// csvFile is an output file that writes its header with the first records.
type csvFile struct {
	name          string
	f             *os.File
	headerWritten bool
}

func writeRecords[T any](c *csvFile, records []T) error {
	if !c.headerWritten {
		if err := gocsv.Marshal(records, c.f); err != nil {
			return fmt.Errorf("writing %s: %w", c.name, err)
		}
		c.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, c.f); err != nil {
		return fmt.Errorf("writing %s: %w", c.name, err)
	}
	return nil
}

// OutputManager handles structured run output with CSV logging.
// A nil OutputManager discards everything.
type OutputManager struct {
	dir      string
	history  *csvFile
	perf     *csvFile
	velocity *csvFile
	density  *csvFile
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	files := []struct {
		dst  **csvFile
		name string
	}{
		{&om.history, "history.csv"},
		{&om.perf, "perf.csv"},
		{&om.velocity, "velocity.csv"},
		{&om.density, "density.csv"},
	}
	for _, file := range files {
		f, err := os.Create(filepath.Join(dir, file.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", file.name, err)
		}
		*file.dst = &csvFile{name: file.name, f: f}
	}
	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteHistory appends a step record to history.csv.
func (om *OutputManager) WriteHistory(row HistoryRow) error {
	if om == nil {
		return nil
	}
	return writeRecords(om.history, []HistoryRow{row})
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int) error {
	if om == nil {
		return nil
	}
	return writeRecords(om.perf, []PerfStatsCSV{stats.ToCSV(windowEnd)})
}

// WriteVelocity appends velocity statistics to velocity.csv.
func (om *OutputManager) WriteVelocity(stats []VelocityStats) error {
	if om == nil || len(stats) == 0 {
		return nil
	}
	return writeRecords(om.velocity, stats)
}

// WriteDensity appends the electron and ion densities of every vertex to
// density.csv.
func (om *OutputManager) WriteDensity(step int, ne, ni []float64) error {
	if om == nil {
		return nil
	}
	rows := make([]DensityRow, len(ne))
	for v := range ne {
		rows[v] = DensityRow{Step: step, Vertex: v, Ne: ne[v], Ni: ni[v]}
	}
	return writeRecords(om.density, rows)
}

// WriteSnapshot saves a particle snapshot in the output directory.
func (om *OutputManager) WriteSnapshot(s *Snapshot) (string, error) {
	if om == nil {
		return "", nil
	}
	return SaveSnapshot(s, om.dir)
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, c := range []*csvFile{om.history, om.perf, om.velocity, om.density} {
		if c == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
