package distribution

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// maxwellianWidth is the half width of the sampled domain in thermal speeds.
const maxwellianWidth = 6

// Maxwellian is a drifting isotropic Maxwell-Boltzmann distribution.
type Maxwellian struct {
	Vth    float64
	Vd     []float64
	norm   float64
	domain []Bound
}

func NewMaxwellian(vth float64, vd []float64) (*Maxwellian, error) {
	if err := checkThermal(vth, vd); err != nil {
		return nil, err
	}
	return &Maxwellian{
		Vth:    vth,
		Vd:     append([]float64(nil), vd...),
		norm:   math.Pow(2*math.Pi*vth*vth, -float64(len(vd))/2),
		domain: centeredDomain(vth, vd, maxwellianWidth),
	}, nil
}

func (m *Maxwellian) Dim() int        { return len(m.Vd) }
func (m *Maxwellian) Domain() []Bound { return m.domain }
func (m *Maxwellian) Max() float64    { return m.norm }

func (m *Maxwellian) Value(v []float64) float64 {
	return m.norm * math.Exp(-0.5*reducedSpeed2(v, m.Vd, m.Vth))
}

// ICDF draws each axis independently from the normal quantile function.
func (m *Maxwellian) ICDF(us []float64) {
	d := len(m.Vd)
	axes := make([]distuv.Normal, d)
	for k := range axes {
		axes[k] = distuv.Normal{Mu: m.Vd[k], Sigma: m.Vth}
	}
	for i, u := range us {
		if u <= 0 {
			u = math.SmallestNonzeroFloat64
		}
		us[i] = axes[i%d].Quantile(u)
	}
}

// FluxMoment integrates the normal velocity component over the inflowing
// half space. The drift enters only through its projection on n.
func (m *Maxwellian) FluxMoment(normal []float64) float64 {
	vdn := floats.Dot(m.Vd, normal[:len(m.Vd)])
	return m.Vth/math.Sqrt(2*math.Pi)*math.Exp(-vdn*vdn/(2*m.Vth*m.Vth)) +
		0.5*vdn*(1+math.Erf(vdn/(math.Sqrt2*m.Vth)))
}
