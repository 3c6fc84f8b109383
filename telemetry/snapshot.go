package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/plasma/particles"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the particle state needed to resume a run.
type Snapshot struct {
	Version int     `json:"version"`
	Seed    int64   `json:"seed"`
	Step    int     `json:"step"`
	Time    float64 `json:"time"`
	Dim     int     `json:"dim"`

	Particles []ParticleState `json:"particles"`
}

// ParticleState is one particle in a snapshot.
type ParticleState struct {
	X [3]float64 `json:"x"`
	V [3]float64 `json:"v"`
	Q float64    `json:"q"`
	M float64    `json:"m"`
}

// NewSnapshot copies records into a snapshot.
func NewSnapshot(seed int64, step int, time float64, dim int, records []particles.Record) *Snapshot {
	s := &Snapshot{
		Version:   SnapshotVersion,
		Seed:      seed,
		Step:      step,
		Time:      time,
		Dim:       dim,
		Particles: make([]ParticleState, len(records)),
	}
	for i, r := range records {
		s.Particles[i] = ParticleState{X: r.X, V: r.V, Q: r.Q, M: r.M}
	}
	return s
}

// Records converts the snapshot back to particle records. Cells are left
// for the population to recompute.
func (s *Snapshot) Records() []particles.Record {
	out := make([]particles.Record, len(s.Particles))
	for i, p := range s.Particles {
		out[i] = particles.Record{Cell: -1, X: p.X, V: p.V, Q: p.Q, M: p.M}
	}
	return out
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("snapshot_%d.json", snapshot.Step))
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}
	return &snapshot, nil
}
