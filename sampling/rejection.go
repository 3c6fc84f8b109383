// Package sampling draws Monte-Carlo samples from distributions: rejection
// sampling over a bounding box, a tiled envelope variant for peaked densities
// and uniform points on boundary facets.
package sampling

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/pthm-cable/plasma/distribution"
)

// DefaultMaxAttempts caps consecutive rejections for a single sample.
const DefaultMaxAttempts = 10_000_000

// ErrStalled is returned when the acceptance rate is too low to produce a
// sample within the attempt cap.
var ErrStalled = errors.New("sampler stalled")

// Rejector is a rejection sampler with a uniform proposal over the
// distribution's domain.
type Rejector struct {
	// MaxAttempts caps consecutive rejections; 0 selects DefaultMaxAttempts.
	MaxAttempts int
}

func (r Rejector) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

// Sample writes n samples of f into dst, Dim values per sample. A proposal v
// is accepted when u·fmax <= f(v) with u uniform in [0, 1) and f(v) > 0.
func (r Rejector) Sample(dst []float64, n int, f distribution.Distribution, fmax float64, rng *rand.Rand) error {
	d := f.Dim()
	if len(dst) < n*d {
		panic(fmt.Sprintf("sampling: dst holds %d values, need %d", len(dst), n*d))
	}
	if n == 0 {
		return nil
	}
	if !(fmax > 0) {
		return fmt.Errorf("%w: %T has envelope %g", ErrStalled, f, fmax)
	}

	domain := f.Domain()
	limit := r.maxAttempts()
	for i := 0; i < n; i++ {
		v := dst[i*d : (i+1)*d]
		for attempt := 1; ; attempt++ {
			for k, b := range domain {
				v[k] = b.Low + rng.Float64()*b.Width()
			}
			val := f.Value(v)
			if val > 0 && rng.Float64()*fmax <= val {
				break
			}
			if attempt >= limit {
				return fmt.Errorf("%w: %T rejected %d consecutive proposals after %d of %d samples",
					ErrStalled, f, attempt, i, n)
			}
		}
	}
	return nil
}

// SampleFlux draws velocities crossing a surface with unit normal n, weighted
// by the normal speed. fmax bounds max(0, v·n) f(v).
func (r Rejector) SampleFlux(dst []float64, n int, normal []float64, f distribution.Distribution, fmax float64, rng *rand.Rand) error {
	return r.Sample(dst, n, distribution.FluxWeighted{F: f, Normal: normal}, fmax, rng)
}

// Rejection samples with the default attempt cap.
func Rejection(dst []float64, n int, f distribution.Distribution, fmax float64, rng *rand.Rand) error {
	return Rejector{}.Sample(dst, n, f, fmax, rng)
}

// RejectionFlux samples flux-weighted velocities with the default attempt cap.
func RejectionFlux(dst []float64, n int, normal []float64, f distribution.Distribution, fmax float64, rng *rand.Rand) error {
	return Rejector{}.SampleFlux(dst, n, normal, f, fmax, rng)
}
