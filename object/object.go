// Package object models conducting objects inside the plasma. Objects absorb
// the particles that hit them and accumulate their charge.
package object

import (
	"log/slog"

	"github.com/pthm-cable/plasma/config"
	"github.com/pthm-cable/plasma/particles"
)

// Sphere is an absorbing ball (a disk in 2D, a segment in 1D).
type Sphere struct {
	Name   string
	Center []float64
	Radius float64

	charge    float64
	collected float64
	absorbed  int
	current   float64
}

var _ particles.Absorber = (*Sphere)(nil)

// NewSphere creates an uncharged sphere.
func NewSphere(name string, center []float64, radius float64) *Sphere {
	return &Sphere{
		Name:   name,
		Center: append([]float64(nil), center...),
		Radius: radius,
	}
}

// Contains reports whether x lies inside the sphere or on its surface.
func (s *Sphere) Contains(x []float64) bool {
	r2 := 0.0
	for i, c := range s.Center {
		d := x[i] - c
		r2 += d * d
	}
	return r2 <= s.Radius*s.Radius
}

// OnParticleAbsorbed adds the charge of an absorbed particle.
func (s *Sphere) OnParticleAbsorbed(_ int, q float64) {
	s.charge += q
	s.collected += q
	s.absorbed++
}

// UpdateCurrent converts the charge collected since the last call into a
// current over dt and returns it.
func (s *Sphere) UpdateCurrent(dt float64) float64 {
	if dt > 0 {
		s.current = s.collected / dt
	}
	s.collected = 0
	return s.current
}

// Charge returns the total charge collected.
func (s *Sphere) Charge() float64 { return s.charge }

// Current returns the current computed by the last UpdateCurrent.
func (s *Sphere) Current() float64 { return s.current }

// Absorbed returns the number of particles absorbed.
func (s *Sphere) Absorbed() int { return s.absorbed }

// LogValue implements slog.LogValuer.
func (s *Sphere) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", s.Name),
		slog.Float64("charge", s.charge),
		slog.Float64("current", s.current),
		slog.Int("absorbed", s.absorbed),
	)
}

// Set is the collection of objects in the domain.
type Set []*Sphere

// FromConfig creates the objects listed in cfg.
func FromConfig(cfg *config.Config) Set {
	set := make(Set, len(cfg.Objects))
	for i, o := range cfg.Objects {
		set[i] = NewSphere(o.Name, o.Center, o.Radius)
	}
	return set
}

// Absorbers returns the objects as population absorbers.
func (s Set) Absorbers() []particles.Absorber {
	out := make([]particles.Absorber, len(s))
	for i, o := range s {
		out[i] = o
	}
	return out
}

// UpdateCurrent updates the current of every object.
func (s Set) UpdateCurrent(dt float64) {
	for _, o := range s {
		o.UpdateCurrent(dt)
	}
}

// Charge returns the charge collected by all objects.
func (s Set) Charge() float64 {
	q := 0.0
	for _, o := range s {
		q += o.charge
	}
	return q
}

// Current returns the summed current of all objects.
func (s Set) Current() float64 {
	i := 0.0
	for _, o := range s {
		i += o.current
	}
	return i
}

// Absorbed returns the number of particles absorbed by all objects.
func (s Set) Absorbed() int {
	n := 0
	for _, o := range s {
		n += o.absorbed
	}
	return n
}
