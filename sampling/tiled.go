package sampling

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/plasma/distribution"
)

// Tiled samples through a piecewise-constant envelope: the domain is cut into
// tiles, each bounded by the maximum of the density inside it. A tile is drawn
// in proportion to its bound, then a point inside it is accepted against that
// bound. Acceptance stays high for densities that fill a small part of their
// domain, such as drifting flux-weighted ones.
//
// Tile maxima are searched on a lattice of three points per axis and polished
// with Nelder-Mead unless the best lattice point is a corner the density
// falls away from. Margin scales the result.
type Tiled struct {
	MaxAttempts int

	f       distribution.Distribution
	domain  []distribution.Bound
	tiles   int
	width   []float64
	tileMax []float64
	cdf     []float64
}

// tileEvaluations caps the Nelder-Mead evaluations per tile.
const tileEvaluations = 120

// NewTiled builds the envelope of f with tiles cells per axis, scaling every
// tile bound by margin.
func NewTiled(f distribution.Distribution, tiles int, margin float64) *Tiled {
	if tiles < 1 {
		tiles = 1
	}
	if margin < 1 {
		margin = 1
	}
	d := f.Dim()
	t := &Tiled{
		f:      f,
		domain: f.Domain(),
		tiles:  tiles,
		width:  make([]float64, d),
	}
	count := 1
	for i, b := range t.domain {
		t.width[i] = b.Width() / float64(tiles)
		count *= tiles
	}

	t.tileMax = make([]float64, count)
	idx := make([]int, d)
	box := make([]distribution.Bound, d)
	for tile := range t.tileMax {
		t.tileIndex(tile, idx)
		for k := range box {
			low := t.domain[k].Low + float64(idx[k])*t.width[k]
			box[k] = distribution.Bound{Low: low, High: low + t.width[k]}
		}
		t.tileMax[tile] = tileBound(f, box) * margin
	}

	t.cdf = make([]float64, count)
	floats.CumSum(t.cdf, t.tileMax)
	return t
}

// tileBound returns the maximum of f over box.
func tileBound(f distribution.Distribution, box []distribution.Bound) float64 {
	d := len(box)
	points := 1
	for range d {
		points *= 3
	}
	v := make([]float64, d)
	bestAt := make([]float64, d)
	best := 0.0
	corner := false
	for p := 0; p < points; p++ {
		r := p
		onCorner := true
		for k, b := range box {
			step := r % 3
			r /= 3
			v[k] = b.Low + 0.5*float64(step)*b.Width()
			if step == 1 {
				onCorner = false
			}
		}
		if val := f.Value(v); val > best {
			best = val
			copy(bestAt, v)
			corner = onCorner
		}
	}
	if best == 0 {
		return 0
	}

	minWidth := math.Inf(1)
	for _, b := range box {
		minWidth = math.Min(minWidth, b.Width())
	}
	if corner && !risesInward(f, box, bestAt, best, 1e-3*minWidth) {
		return best
	}
	return RefineMax(f, box, bestAt, best, 0.25*minWidth, tileEvaluations)
}

// risesInward reports whether f grows when stepping h into box from the
// corner c along any axis.
func risesInward(f distribution.Distribution, box []distribution.Bound, c []float64, fc, h float64) bool {
	v := make([]float64, len(c))
	for k, b := range box {
		copy(v, c)
		if c[k] == b.Low {
			v[k] += h
		} else {
			v[k] -= h
		}
		if f.Value(v) > fc {
			return true
		}
	}
	return false
}

func (t *Tiled) tileIndex(tile int, idx []int) {
	for k := range idx {
		idx[k] = tile % t.tiles
		tile /= t.tiles
	}
}

// Acceptance returns the expected acceptance rate given the integral of the
// density over its domain.
func (t *Tiled) Acceptance(integral float64) float64 {
	total := t.cdf[len(t.cdf)-1]
	if total == 0 {
		return 0
	}
	vol := 1.0
	for _, w := range t.width {
		vol *= w
	}
	return integral / (total * vol)
}

// Sample writes n samples into dst.
func (t *Tiled) Sample(dst []float64, n int, rng *rand.Rand) error {
	d := len(t.domain)
	if len(dst) < n*d {
		panic(fmt.Sprintf("sampling: dst holds %d values, need %d", len(dst), n*d))
	}
	if n == 0 {
		return nil
	}
	total := t.cdf[len(t.cdf)-1]
	if !(total > 0) {
		return fmt.Errorf("%w: %T has an empty envelope", ErrStalled, t.f)
	}

	limit := Rejector{MaxAttempts: t.MaxAttempts}.maxAttempts()
	idx := make([]int, d)
	for i := 0; i < n; i++ {
		v := dst[i*d : (i+1)*d]
		for attempt := 1; ; attempt++ {
			u := rng.Float64() * total
			tile := sort.Search(len(t.cdf), func(j int) bool { return t.cdf[j] > u })
			if tile == len(t.cdf) {
				tile--
			}
			t.tileIndex(tile, idx)
			for k := range v {
				v[k] = t.domain[k].Low + (float64(idx[k])+rng.Float64())*t.width[k]
			}
			val := t.f.Value(v)
			if val > 0 && rng.Float64()*t.tileMax[tile] <= val {
				break
			}
			if attempt >= limit {
				return fmt.Errorf("%w: tiled %T rejected %d consecutive proposals after %d of %d samples",
					ErrStalled, t.f, attempt, i, n)
			}
		}
	}
	return nil
}
