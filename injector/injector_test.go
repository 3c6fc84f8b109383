package injector

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/plasma/distribution"
	"github.com/pthm-cable/plasma/mesh"
	"github.com/pthm-cable/plasma/particles"
	"github.com/pthm-cable/plasma/sampling"
	"github.com/pthm-cable/plasma/species"
)

func newBox(t *testing.T, dim, cells int) *mesh.Box {
	t.Helper()
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	n := make([]int, dim)
	for i := range upper {
		upper[i] = 1
		n[i] = cells
	}
	b, err := mesh.NewBox(lower, upper, n)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// inflowSpecies returns a unit-thermal Maxwellian species with the closed
// form flux precomputed for every facet of b.
func inflowSpecies(t *testing.T, b *mesh.Box, n float64) *species.Species {
	t.Helper()
	vd := make([]float64, b.Dim())
	vdf, err := distribution.NewMaxwellian(1, vd)
	if err != nil {
		t.Fatal(err)
	}
	facets := b.ExteriorFacets()
	s := &species.Species{Q: -1, M: 1, N: n, Vdf: vdf}
	s.Flux.NumParticles = make([]float64, len(facets))
	s.Flux.PdfMax = make([]float64, len(facets))
	peak := vdf.Max() * math.Exp(-0.5)
	for i := range facets {
		s.Flux.NumParticles[i] = facets[i].Area * vdf.FluxMoment(facets[i].Inward())
		s.Flux.PdfMax[i] = 1.05 * peak
	}
	return s
}

func TestInject_RateConverges(t *testing.T) {
	const (
		steps = 400
		dt    = 1e-3
		n     = 1e5
	)
	for _, sampler := range []string{SamplerRejection, SamplerTiled} {
		t.Run(sampler, func(t *testing.T) {
			b := newBox(t, 1, 1)
			s := inflowSpecies(t, b, n)
			pop := particles.NewPopulation(b)
			inj := New(b.ExteriorFacets(), Options{Sampler: sampler, Tiles: 32, SafetyMargin: 1.05})
			rng := rand.New(rand.NewSource(42))

			total := 0
			for range steps {
				stats, err := inj.Inject(pop, []*species.Species{s}, dt, rng)
				if err != nil {
					t.Fatal(err)
				}
				if stats.Discarded != 0 {
					t.Fatalf("discarded %d particles", stats.Discarded)
				}
				total += stats.Total()
			}

			// Two facets, each with intensity 1/√(2π).
			want := 2 / math.Sqrt(2*math.Pi) * n * dt
			got := float64(total) / steps
			if math.Abs(got-want) > 0.02*want {
				t.Errorf("got %v particles per step, want %v", got, want)
			}
			if pop.NumOfParticles() != total {
				t.Errorf("population: got %d, want %d", pop.NumOfParticles(), total)
			}
		})
	}
}

func TestInject_StochasticRounding(t *testing.T) {
	b := newBox(t, 1, 1)
	s := inflowSpecies(t, b, 1)
	const dt = 1e-9
	// A quarter of a particle per facet per step.
	for i := range s.Flux.NumParticles {
		s.Flux.NumParticles[i] = 0.25 / dt
	}
	pop := particles.NewPopulation(b)
	inj := New(b.ExteriorFacets(), Options{})
	rng := rand.New(rand.NewSource(7))

	const steps = 20000
	total := 0
	for range steps {
		stats, err := inj.Inject(pop, []*species.Species{s}, dt, rng)
		if err != nil {
			t.Fatal(err)
		}
		total += stats.Total()
	}
	got := float64(total) / steps
	if math.Abs(got-0.5) > 0.02 {
		t.Errorf("got %v per step, want 0.5", got)
	}
}

func TestInject_VelocitiesPointInward(t *testing.T) {
	b := newBox(t, 2, 2)
	s := inflowSpecies(t, b, 1e5)
	pop := particles.NewPopulation(b)
	rng := rand.New(rand.NewSource(3))
	if _, err := InjectParticles(pop, []*species.Species{s}, b.ExteriorFacets(), 1e-3, rng); err != nil {
		t.Fatal(err)
	}
	if pop.NumOfParticles() == 0 {
		t.Fatal("no particles injected")
	}
	for _, r := range pop.Snapshot(nil) {
		// Within the birth sub-step of a wall, the velocity points away from it.
		for k := 0; k < 2; k++ {
			if r.X[k] < 1e-9 && r.V[k] <= 0 {
				t.Errorf("particle at %v moving %v toward lower wall", r.X, r.V)
			}
			if r.X[k] > 1-1e-9 && r.V[k] >= 0 {
				t.Errorf("particle at %v moving %v toward upper wall", r.X, r.V)
			}
		}
		if r.Q != -1 || r.M != 1 {
			t.Errorf("got q=%v m=%v, want -1 1", r.Q, r.M)
		}
	}
}

func TestInject_DiscardsEscapingParticles(t *testing.T) {
	b := newBox(t, 1, 1)
	s := inflowSpecies(t, b, 100)
	pop := particles.NewPopulation(b)
	rng := rand.New(rand.NewSource(11))
	// A long sub-step lets fast particles cross the whole domain.
	stats, err := InjectParticles(pop, []*species.Species{s}, b.ExteriorFacets(), 2, rng)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Discarded == 0 {
		t.Error("expected some particles to be discarded")
	}
	if got := pop.NumOfParticles(); got != stats.Total() {
		t.Errorf("population: got %d, want %d", got, stats.Total())
	}
}

func TestInject_Deterministic(t *testing.T) {
	run := func() []particles.Record {
		b := newBox(t, 2, 3)
		s := inflowSpecies(t, b, 1e5)
		pop := particles.NewPopulation(b)
		inj := New(b.ExteriorFacets(), Options{})
		rng := rand.New(rand.NewSource(99))
		for range 5 {
			if _, err := inj.Inject(pop, []*species.Species{s}, 1e-3, rng); err != nil {
				t.Fatal(err)
			}
		}
		return pop.Snapshot(nil)
	}
	a, c := run(), run()
	if len(a) != len(c) {
		t.Fatalf("got %d and %d particles", len(a), len(c))
	}
	for i := range a {
		if a[i] != c[i] {
			t.Fatalf("particle %d: got %+v, want %+v", i, c[i], a[i])
		}
	}
}

func TestInject_Stalled(t *testing.T) {
	b := newBox(t, 1, 1)
	s := inflowSpecies(t, b, 1e5)
	for i := range s.Flux.PdfMax {
		s.Flux.PdfMax[i] = 0
	}
	pop := particles.NewPopulation(b)
	_, err := InjectParticles(pop, []*species.Species{s}, b.ExteriorFacets(), 1e-3, rand.New(rand.NewSource(1)))
	if !errors.Is(err, sampling.ErrStalled) {
		t.Errorf("got %v, want ErrStalled", err)
	}
}

func TestLoadParticles(t *testing.T) {
	b := newBox(t, 2, 4)
	lower, upper := b.Bounds()
	pdf := distribution.NewUniformPosition(b, lower, upper)
	maxw, err := distribution.NewMaxwellian(2, []float64{0.5, 0})
	if err != nil {
		t.Fatal(err)
	}
	kappa, err := distribution.NewKappa(1, []float64{0, 0}, 6)
	if err != nil {
		t.Fatal(err)
	}
	list := []*species.Species{
		{Q: -1, M: 1, N: 1, Num: 4000, Pdf: pdf, Vdf: maxw},
		{Q: 1, M: 100, N: 1, Num: 1000, Pdf: pdf, Vdf: kappa},
	}

	pop := particles.NewPopulation(b)
	stats, err := LoadParticles(pop, list, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Injected[0] != 4000 || stats.Injected[1] != 1000 || stats.Discarded != 0 {
		t.Errorf("got %+v, want [4000 1000] and no discards", stats)
	}
	if got := pop.NumOfNegatives(); got != 4000 {
		t.Errorf("electrons: got %d, want 4000", got)
	}
	if got := pop.NumOfPositives(); got != 1000 {
		t.Errorf("ions: got %d, want 1000", got)
	}

	var vx, x []float64
	for _, r := range pop.Snapshot(nil) {
		if r.Q < 0 {
			vx = append(vx, r.V[0])
			x = append(x, r.X[0])
		}
	}
	mean, variance := stat.MeanVariance(vx, nil)
	if math.Abs(mean-0.5) > 0.1 || math.Abs(variance-4)/4 > 0.08 {
		t.Errorf("vx moments: got %v, %v, want 0.5, 4", mean, variance)
	}
	if m := stat.Mean(x, nil); math.Abs(m-0.5) > 0.02 {
		t.Errorf("x mean: got %v, want 0.5", m)
	}
}
