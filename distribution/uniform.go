package distribution

import "github.com/pthm-cable/plasma/mesh"

// UniformPosition is the unit density over the part of a bounding box that a
// locator accepts. It is the position distribution of the initial load.
type UniformPosition struct {
	loc    mesh.Locator
	domain []Bound
}

// NewUniformPosition spans the box [lower, upper].
func NewUniformPosition(loc mesh.Locator, lower, upper []float64) *UniformPosition {
	d := make([]Bound, len(lower))
	for i := range d {
		d[i] = Bound{Low: lower[i], High: upper[i]}
	}
	return &UniformPosition{loc: loc, domain: d}
}

func (p *UniformPosition) Dim() int        { return len(p.domain) }
func (p *UniformPosition) Domain() []Bound { return p.domain }
func (p *UniformPosition) Max() float64    { return 1 }

func (p *UniformPosition) Value(x []float64) float64 {
	if p.loc.Locate(x) < 0 {
		return 0
	}
	return 1
}

// Volume returns the measure of the bounding box.
func (p *UniformPosition) Volume() float64 {
	v := 1.0
	for _, b := range p.domain {
		v *= b.Width()
	}
	return v
}
