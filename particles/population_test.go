package particles

import (
	"math"
	"math/rand"
	"testing"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/plasma/mesh"
)

func newBox(t *testing.T, dim, n int) *mesh.Box {
	t.Helper()
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	cells := make([]int, dim)
	for i := range upper {
		upper[i] = 1
		cells[i] = n
	}
	b, err := mesh.NewBox(lower, upper, cells)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func randomFill(rng *rand.Rand, n, dim int, lo, hi float64) []float64 {
	xs := make([]float64, n*dim)
	for i := range xs {
		xs[i] = lo + rng.Float64()*(hi-lo)
	}
	return xs
}

// checkIndex verifies that every indexed particle lies in its cell.
func checkIndex(t *testing.T, b *mesh.Box, p *Population) {
	t.Helper()
	p.ForEach(func(c int, e ecs.Entity) {
		x := p.Position(e)[:p.Dim()]
		if !b.Contains(c, x) {
			t.Fatalf("particle at %v indexed in cell %d", x, c)
		}
	})
}

type sideWall struct {
	limit float64
	cells []int
	q     float64
}

func (w *sideWall) Contains(x []float64) bool { return x[0] < w.limit }
func (w *sideWall) OnParticleAbsorbed(cell int, q float64) {
	w.cells = append(w.cells, cell)
	w.q += q
}

func TestAddParticles(t *testing.T) {
	b := newBox(t, 2, 3)
	p := NewPopulation(b)

	xs := []float64{0.1, 0.1, 0.5, 0.9, 1.5, 0.5, -0.1, 0.2}
	vs := []float64{1, 0, 0, 1, 1, 1, 2, 2}
	if got := p.AddParticles(xs, vs, -1, 1); got != 2 {
		t.Errorf("added: got %d, want 2", got)
	}
	if got := p.NumOfParticles(); got != 2 {
		t.Errorf("count: got %d, want 2", got)
	}
	checkIndex(t, b, p)

	// Velocities beyond the geometric dimension start at zero.
	p.ForEach(func(_ int, e ecs.Entity) {
		if v := p.Velocity(e); v[2] != 0 {
			t.Errorf("third velocity component: got %v, want 0", v[2])
		}
	})
}

func TestAddParticles_PanicsOnMismatch(t *testing.T) {
	tests := []struct {
		name   string
		xs, vs []float64
	}{
		{"lengths differ", []float64{0.1, 0.1}, []float64{0}},
		{"partial particle", []float64{0.1, 0.1, 0.2}, []float64{0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			NewPopulation(newBox(t, 2, 2)).AddParticles(tt.xs, tt.vs, 1, 1)
		})
	}
}

func TestLocateRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for dim := 1; dim <= 3; dim++ {
		b := newBox(t, dim, 4)
		p := NewPopulation(b)
		xs := randomFill(rng, 3000, dim, -0.1, 1.1)
		vs := make([]float64, len(xs))
		added := p.AddParticles(xs, vs, 1, 1)

		inside := 0
		for i := 0; i < len(xs); i += dim {
			if p.Locate(xs[i:i+dim]) >= 0 {
				inside++
			}
		}
		if added != inside {
			t.Errorf("dim %d: added %d, want %d", dim, added, inside)
		}
		checkIndex(t, b, p)
	}
}

func TestUpdate_ConservesInsideDomain(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := newBox(t, 2, 5)
	p := NewPopulation(b)
	xs := randomFill(rng, 2000, 2, 0, 1)
	vs := randomFill(rng, 2000, 2, -1, 1)
	p.AddParticles(xs[:2000], vs[:2000], 1, 1)
	p.AddParticles(xs[2000:], vs[2000:], -1, 1/1836.0)

	count := p.NumOfParticles()
	charge := p.TotalCharge()

	for step := 0; step < 10; step++ {
		// Shuffle particles inside the domain, reflecting at the walls.
		p.ForEach(func(_ int, e ecs.Entity) {
			pos := p.Position(e)
			for k := 0; k < 2; k++ {
				x := pos[k] + 0.3*(rng.Float64()-0.5)
				if x < 0 {
					x = -x
				}
				if x > 1 {
					x = 2 - x
				}
				pos[k] = x
			}
		})
		stats := p.Update()
		if stats.Removed != 0 || stats.Absorbed != 0 {
			t.Fatalf("step %d: %+v", step, stats)
		}
		if got := p.NumOfParticles(); got != count {
			t.Fatalf("step %d count: got %d, want %d", step, got, count)
		}
		if got := p.TotalCharge(); got != charge {
			t.Fatalf("step %d charge: got %v, want %v", step, got, charge)
		}
		checkIndex(t, b, p)
	}
	if got := p.NumOfPositives(); got != 1000 {
		t.Errorf("positives: got %d, want 1000", got)
	}
	if got := p.NumOfNegatives(); got != 1000 {
		t.Errorf("negatives: got %d, want 1000", got)
	}
}

func TestUpdate_RemovesOutside(t *testing.T) {
	b := newBox(t, 1, 2)
	p := NewPopulation(b)
	p.AddParticles([]float64{0.1, 0.4, 0.9}, []float64{0, 0, 0}, 1, 1)

	var leaving []ecs.Entity
	p.ForEach(func(_ int, e ecs.Entity) {
		pos := p.Position(e)
		switch {
		case pos[0] == 0.1:
			pos[0] = -0.2
			leaving = append(leaving, e)
		case pos[0] == 0.4:
			pos[0] = 0.6
		}
	})

	stats := p.Update()
	want := UpdateStats{Moved: 1, Removed: 1}
	if stats != want {
		t.Errorf("stats: got %+v, want %+v", stats, want)
	}
	if got := p.NumOfParticles(); got != 2 {
		t.Errorf("count: got %d, want 2", got)
	}
	if len(p.Cell(0)) != 0 || len(p.Cell(1)) != 2 {
		t.Errorf("cells: got %d and %d, want 0 and 2", len(p.Cell(0)), len(p.Cell(1)))
	}
	for _, e := range leaving {
		if p.Alive(e) {
			t.Error("removed particle still alive")
		}
	}
	checkIndex(t, b, p)
}

func TestUpdate_Absorbers(t *testing.T) {
	b := newBox(t, 2, 4)
	p := NewPopulation(b)
	xs := []float64{0.1, 0.5, 0.15, 0.9, 0.6, 0.6}
	vs := make([]float64, len(xs))
	p.AddParticles(xs, vs, -2, 1)

	wall := &sideWall{limit: 0.2}
	stats := p.Update(wall)
	if stats.Absorbed != 2 {
		t.Errorf("absorbed: got %d, want 2", stats.Absorbed)
	}
	if len(wall.cells) != 2 {
		t.Fatalf("callbacks: got %d, want 2", len(wall.cells))
	}
	if wall.q != -4 {
		t.Errorf("absorbed charge: got %v, want -4", wall.q)
	}
	for _, c := range wall.cells {
		if c != b.Locate([]float64{0.1, 0.5}) && c != b.Locate([]float64{0.15, 0.9}) {
			t.Errorf("absorbed in unexpected cell %d", c)
		}
	}
	if got := p.NumOfParticles(); got != 1 {
		t.Errorf("count: got %d, want 1", got)
	}
}

func TestKineticEnergyAndSnapshot(t *testing.T) {
	b := newBox(t, 2, 2)
	p := NewPopulation(b)
	p.AddParticles([]float64{0.2, 0.2, 0.7, 0.7}, []float64{1, 2, 3, 0}, 1, 2)

	if got, want := p.KineticEnergy(), 0.5*2*(5+9); math.Abs(got-want) > 1e-12 {
		t.Errorf("kinetic energy: got %v, want %v", got, want)
	}

	recs := p.Snapshot(nil)
	if len(recs) != 2 {
		t.Fatalf("records: got %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Q != 1 || r.M != 2 {
			t.Errorf("record charge: got %v/%v, want 1/2", r.Q, r.M)
		}
		if !b.Contains(r.Cell, r.X[:2]) {
			t.Errorf("record cell %d does not contain %v", r.Cell, r.X)
		}
	}
}

func TestAddRecords(t *testing.T) {
	b := newBox(t, 2, 3)
	src := NewPopulation(b)
	src.AddParticles([]float64{0.1, 0.2, 0.8, 0.4}, []float64{1, 2, 3, 4}, -1, 1)
	src.ForEach(func(_ int, e ecs.Entity) {
		src.Velocity(e)[2] = 5
	})
	recs := src.Snapshot(nil)
	recs = append(recs, Record{X: Position{1.5, 0.5}, Q: 1, M: 1})

	dst := NewPopulation(b)
	if got := dst.AddRecords(recs); got != 2 {
		t.Errorf("added: got %d, want 2", got)
	}
	checkIndex(t, b, dst)
	again := dst.Snapshot(nil)
	for i := range again {
		if again[i] != recs[i] {
			t.Errorf("record %d: got %+v, want %+v", i, again[i], recs[i])
		}
	}
}
