package distribution

import (
	"fmt"
	"math"
)

const cairnsWidth = 10

// Cairns is the non-thermal distribution A (1 + α u⁴) exp(-u²/2) with
// u = |v-vd|/vth.
type Cairns struct {
	Vth    float64
	Vd     []float64
	Alpha  float64
	norm   float64
	max    float64
	domain []Bound
}

func NewCairns(vth float64, vd []float64, alpha float64) (*Cairns, error) {
	if err := checkThermal(vth, vd); err != nil {
		return nil, err
	}
	if !(alpha >= 0) {
		return nil, fmt.Errorf("%w: alpha %g is negative", ErrInvalid, alpha)
	}
	d := float64(len(vd))
	c := &Cairns{
		Vth:    vth,
		Vd:     append([]float64(nil), vd...),
		Alpha:  alpha,
		norm:   math.Pow(2*math.Pi*vth*vth, -d/2) / (1 + alpha*d*(d+2)),
		domain: centeredDomain(vth, vd, cairnsWidth),
	}

	// Below α = 1/4 the shape decreases monotonically from u = 0.
	peak := 1.0
	if alpha >= 0.25 {
		s := 2 + math.Sqrt(4-1/alpha)
		peak = math.Max(peak, c.shape(s))
	}
	c.max = c.norm * peak
	return c, nil
}

func (c *Cairns) Dim() int        { return len(c.Vd) }
func (c *Cairns) Domain() []Bound { return c.domain }
func (c *Cairns) Max() float64    { return c.max }

func (c *Cairns) Value(v []float64) float64 {
	return c.norm * c.shape(reducedSpeed2(v, c.Vd, c.Vth))
}

func (c *Cairns) shape(s float64) float64 {
	return (1 + c.Alpha*s*s) * math.Exp(-s/2)
}
