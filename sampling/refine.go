package sampling

import (
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/plasma/distribution"
)

// RefineMax polishes a maximum of f found at start with Nelder-Mead and
// returns the best value seen, never less than best. Points are clamped to
// box; evals caps the density evaluations.
func RefineMax(f distribution.Distribution, box []distribution.Bound, start []float64, best, step float64, evals int) float64 {
	clamped := make([]float64, len(start))
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			for k, b := range box {
				clamped[k] = math.Min(math.Max(x[k], b.Low), b.High)
			}
			val := f.Value(clamped)
			if val > best {
				best = val
			}
			return -val
		},
	}
	settings := &optimize.Settings{FuncEvaluations: evals}
	// The best value is tracked in Func; a method error only ends the search.
	_, _ = optimize.Minimize(problem, start, settings, &optimize.NelderMead{SimplexSize: step})
	return best
}
