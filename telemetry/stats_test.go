package telemetry

import (
	"math"
	"testing"

	"github.com/pthm-cable/plasma/particles"
)

func TestComputeVelocityStats(t *testing.T) {
	records := []particles.Record{
		{V: particles.Velocity{1, 0, 0}, Q: -1},
		{V: particles.Velocity{3, 0, 0}, Q: -1},
		{V: particles.Velocity{0, 4, 0}, Q: -1},
		{V: particles.Velocity{0, 0, 2}, Q: 1},
	}
	got := ComputeVelocityStats(7, records)
	if len(got) != 2 {
		t.Fatalf("got %d groups, want 2", len(got))
	}

	e := got[0]
	if e.Group != GroupElectrons || e.Count != 3 || e.Step != 7 {
		t.Errorf("got %+v, want 3 electrons at step 7", e)
	}
	tests := []struct {
		name      string
		got, want float64
	}{
		{"mean vx", e.MeanVx, 4.0 / 3},
		{"mean vy", e.MeanVy, 4.0 / 3},
		{"std vx", e.StdVx, math.Sqrt((1.0/9 + 25.0/9 + 16.0/9) / 2)},
		{"speed p50", e.SpeedP50, 3},
		{"speed p10", e.SpeedP10, 1},
		{"speed p90", e.SpeedP90, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.want) > 1e-12 {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	i := got[1]
	if i.Group != GroupIons || i.Count != 1 || i.MeanVz != 2 || i.StdVz != 0 {
		t.Errorf("got %+v, want one ion with vz 2", i)
	}
}

func TestComputeVelocityStats_Empty(t *testing.T) {
	got := ComputeVelocityStats(0, nil)
	for _, g := range got {
		if g.Count != 0 || g.MeanVx != 0 || g.SpeedP90 != 0 {
			t.Errorf("got %+v, want zero stats", g)
		}
	}
}
