// Package injector creates particles: the initial load inside the domain and
// the inflow through the exterior facets each step.
package injector

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pthm-cable/plasma/distribution"
	"github.com/pthm-cable/plasma/mesh"
	"github.com/pthm-cable/plasma/particles"
	"github.com/pthm-cable/plasma/sampling"
	"github.com/pthm-cable/plasma/species"
)

// Sampler names accepted in Options.
const (
	SamplerRejection = "rejection"
	SamplerTiled     = "tiled"
)

// Options selects and tunes the velocity sampler.
type Options struct {
	Sampler string
	// Tiles per velocity axis of the tiled sampler.
	Tiles int
	// SafetyMargin scales every tile bound of the tiled sampler.
	SafetyMargin float64
	// MaxAttempts caps consecutive rejections; 0 selects the sampler default.
	MaxAttempts int
}

// Stats counts the particles created by one call.
type Stats struct {
	// Injected is the number of particles inserted, per species.
	Injected []int
	// Discarded counts particles that left the domain during their birth
	// sub-step.
	Discarded int
}

// Total returns the number of particles inserted over all species.
func (s Stats) Total() int {
	n := 0
	for _, c := range s.Injected {
		n += c
	}
	return n
}

// Injector draws inflowing particles. It keeps per-facet sampling state and
// scratch buffers between steps and is not safe for concurrent use.
type Injector struct {
	facets []mesh.Facet
	inward [][]float64
	opts   Options
	tiled  map[*species.Species][]*sampling.Tiled

	// scratch reused across calls
	xs, vs   []float64
	pos, vel []float64
}

// New creates an injector for the given exterior facets.
func New(facets []mesh.Facet, opts Options) *Injector {
	if opts.Sampler == "" {
		opts.Sampler = SamplerRejection
	}
	inward := make([][]float64, len(facets))
	for i := range facets {
		inward[i] = facets[i].Inward()
	}
	return &Injector{
		facets: facets,
		inward: inward,
		opts:   opts,
		tiled:  make(map[*species.Species][]*sampling.Tiled),
	}
}

// NumFacets returns the number of facets particles enter through.
func (in *Injector) NumFacets() int { return len(in.facets) }

// Inject adds the particles entering the domain during dt. For facet i the
// expected count Nf = intensity·n·dt is rounded stochastically with one
// uniform draw; each particle starts on the facet and is advanced by r·dt·v
// with r uniform in [0, 1). Particles that leave the domain during that
// advance are discarded.
func (in *Injector) Inject(pop *particles.Population, list []*species.Species, dt float64, rng *rand.Rand) (Stats, error) {
	stats := Stats{Injected: make([]int, len(list))}
	d := pop.Dim()
	for si, s := range list {
		if s.N == 0 {
			continue
		}
		in.pos = in.pos[:0]
		in.vel = in.vel[:0]
		for fi := range in.facets {
			nf := s.Rate(fi, dt)
			n := int(math.Floor(nf))
			if rng.Float64() < nf-float64(n) {
				n++
			}
			if n == 0 {
				continue
			}

			in.xs = grow(in.xs, n*d)
			in.vs = grow(in.vs, n*d)
			sampling.FacetPoints(in.xs, n, in.facets[fi].Vertices, rng)
			if err := in.sampleFlux(in.vs, n, s, fi, rng); err != nil {
				return stats, fmt.Errorf("injecting species %d through facet %d: %w", si, fi, err)
			}

			for j := 0; j < n; j++ {
				x := in.xs[j*d : (j+1)*d]
				v := in.vs[j*d : (j+1)*d]
				r := rng.Float64()
				for k := range x {
					x[k] += r * dt * v[k]
				}
				if pop.Locate(x) < 0 {
					stats.Discarded++
					continue
				}
				in.pos = append(in.pos, x...)
				in.vel = append(in.vel, v...)
			}
		}
		stats.Injected[si] = pop.AddParticles(in.pos, in.vel, s.Q, s.M)
	}
	return stats, nil
}

func (in *Injector) sampleFlux(dst []float64, n int, s *species.Species, facet int, rng *rand.Rand) error {
	if in.opts.Sampler != SamplerTiled {
		r := sampling.Rejector{MaxAttempts: in.opts.MaxAttempts}
		return r.SampleFlux(dst, n, in.inward[facet], s.Vdf, s.Flux.PdfMax[facet], rng)
	}

	samplers := in.tiled[s]
	if samplers == nil {
		samplers = make([]*sampling.Tiled, len(in.facets))
		in.tiled[s] = samplers
	}
	t := samplers[facet]
	if t == nil {
		fw := distribution.FluxWeighted{F: s.Vdf, Normal: in.inward[facet]}
		t = sampling.NewTiled(fw, in.opts.Tiles, in.opts.SafetyMargin)
		t.MaxAttempts = in.opts.MaxAttempts
		samplers[facet] = t
	}
	return t.Sample(dst, n, rng)
}

// Load inserts the initial Num particles of every species: positions by
// rejection from the position density, velocities by inverse transform when
// the velocity density supports it and by rejection otherwise.
func (in *Injector) Load(pop *particles.Population, list []*species.Species, rng *rand.Rand) (Stats, error) {
	stats := Stats{Injected: make([]int, len(list))}
	r := sampling.Rejector{MaxAttempts: in.opts.MaxAttempts}
	for si, s := range list {
		if s.Num == 0 {
			continue
		}
		in.xs = grow(in.xs, s.Num*s.Pdf.Dim())
		in.vs = grow(in.vs, s.Num*s.Vdf.Dim())
		if err := r.Sample(in.xs, s.Num, s.Pdf, s.Pdf.Max(), rng); err != nil {
			return stats, fmt.Errorf("loading positions of species %d: %w", si, err)
		}
		if inv, ok := s.Vdf.(distribution.Inverter); ok {
			for i := range in.vs {
				in.vs[i] = rng.Float64()
			}
			inv.ICDF(in.vs)
		} else if err := r.Sample(in.vs, s.Num, s.Vdf, s.Vdf.Max(), rng); err != nil {
			return stats, fmt.Errorf("loading velocities of species %d: %w", si, err)
		}
		added := pop.AddParticles(in.xs, in.vs, s.Q, s.M)
		stats.Injected[si] = added
		stats.Discarded += s.Num - added
	}
	return stats, nil
}

// InjectParticles injects one step of inflow with the rejection sampler.
func InjectParticles(pop *particles.Population, list []*species.Species, facets []mesh.Facet, dt float64, rng *rand.Rand) (Stats, error) {
	return New(facets, Options{}).Inject(pop, list, dt, rng)
}

// LoadParticles inserts the initial particles with the default sampler.
func LoadParticles(pop *particles.Population, list []*species.Species, rng *rand.Rand) (Stats, error) {
	return New(nil, Options{}).Load(pop, list, rng)
}

// grow returns buf resized to n, reallocating only when it is too small.
func grow(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	return buf[:n]
}
