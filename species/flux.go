package species

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/plasma/distribution"
	"github.com/pthm-cable/plasma/mesh"
	"github.com/pthm-cable/plasma/sampling"
)

// FluxOptions tunes CreateFlux.
type FluxOptions struct {
	// Resolution is the number of grid points per velocity axis.
	Resolution int
	// SafetyMargin scales the envelope found by the grid search.
	SafetyMargin float64
	// Workers bounds the facets processed concurrently; 0 selects GOMAXPROCS.
	Workers int
}

func (o FluxOptions) withDefaults() FluxOptions {
	if o.Resolution < 2 {
		o.Resolution = 64
	}
	if o.SafetyMargin < 1 {
		o.SafetyMargin = 1.05
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// refineEvaluations caps the Nelder-Mead evaluations per facet.
const refineEvaluations = 400

// CreateFlux fills the Flux of every species for the given facets. Inflow is
// along each facet's inward normal.
func CreateFlux(ctx context.Context, species []*Species, facets []mesh.Facet, opts FluxOptions) error {
	opts = opts.withDefaults()
	for _, s := range species {
		s.Flux = Flux{
			NumParticles: make([]float64, len(facets)),
			PdfMax:       make([]float64, len(facets)),
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for si, s := range species {
		if s.N == 0 {
			continue
		}
		for fi := range facets {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				f := &facets[fi]
				moment, fmax, err := facetFlux(s.Vdf, f.Inward(), opts)
				if err != nil {
					return fmt.Errorf("species %d facet %d: %w", si, fi, err)
				}
				s.Flux.NumParticles[fi] = f.Area * moment
				s.Flux.PdfMax[fi] = fmax
				return nil
			})
		}
	}
	return g.Wait()
}

// facetFlux returns the inflow moment of vdf through a surface with unit
// normal n and an upper bound of the flux-weighted density.
func facetFlux(vdf distribution.Distribution, normal []float64, opts FluxOptions) (moment, fmax float64, err error) {
	fw := distribution.FluxWeighted{F: vdf, Normal: normal}
	domain := vdf.Domain()
	d := vdf.Dim()
	res := opts.Resolution

	axes := make([][]float64, d)
	for k, b := range domain {
		axes[k] = floats.Span(make([]float64, res), b.Low, b.High)
	}

	// Grid search over the vertices; midpoint rule over the cells when no
	// closed form is available.
	momenter, closed := vdf.(distribution.FluxMomenter)
	cellVol := 1.0
	for _, b := range domain {
		cellVol *= b.Width() / float64(res-1)
	}
	best := 0.0
	bestAt := make([]float64, d)
	v := make([]float64, d)
	mid := make([]float64, d)
	idx := make([]int, d)
	total := 1
	for range d {
		total *= res
	}
	for n := 0; n < total; n++ {
		r := n
		interior := true
		for k := range idx {
			idx[k] = r % res
			r /= res
			v[k] = axes[k][idx[k]]
			if idx[k] == res-1 {
				interior = false
			}
		}
		if val := fw.Value(v); val > best {
			best = val
			copy(bestAt, v)
		}
		if !closed && interior {
			for k := range mid {
				mid[k] = 0.5 * (axes[k][idx[k]] + axes[k][idx[k]+1])
			}
			moment += fw.Value(mid) * cellVol
		}
	}
	if closed {
		moment = math.Max(momenter.FluxMoment(normal), 0)
	}

	if best > 0 {
		step := math.Inf(1)
		for _, b := range domain {
			step = math.Min(step, b.Width()/float64(res-1))
		}
		best = sampling.RefineMax(fw, domain, bestAt, best, step, refineEvaluations)
	} else if moment > 0 {
		best = fw.Max()
	}
	if math.IsNaN(best) || math.IsNaN(moment) {
		return 0, 0, fmt.Errorf("flux of %T is not finite", vdf)
	}
	return moment, best * opts.SafetyMargin, nil
}
