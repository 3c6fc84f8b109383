package distribution

import "math"

// FluxWeighted is max(0, v·n) F(v): the velocity density of particles
// crossing a surface with unit normal n in the direction of n.
type FluxWeighted struct {
	F      Distribution
	Normal []float64
}

func (f FluxWeighted) Dim() int        { return f.F.Dim() }
func (f FluxWeighted) Domain() []Bound { return f.F.Domain() }

func (f FluxWeighted) Value(v []float64) float64 {
	vn := f.NormalSpeed(v)
	if vn <= 0 {
		return 0
	}
	return vn * f.F.Value(v)
}

// NormalSpeed returns v·n.
func (f FluxWeighted) NormalSpeed(v []float64) float64 {
	vn := 0.0
	for i := 0; i < f.F.Dim(); i++ {
		vn += v[i] * f.Normal[i]
	}
	return vn
}

// Max bounds the density by F.Max times the largest normal speed over the
// domain. Use a grid search for a tighter bound.
func (f FluxWeighted) Max() float64 {
	return f.F.Max() * MaxNormalSpeed(f.F.Domain(), f.Normal)
}

// MaxNormalSpeed returns the largest v·n over a box, attained at a corner.
func MaxNormalSpeed(domain []Bound, normal []float64) float64 {
	vn := 0.0
	for i, b := range domain {
		vn += math.Max(b.Low*normal[i], b.High*normal[i])
	}
	return math.Max(vn, 0)
}
