// Package distribution provides the position and velocity probability
// densities sampled by the injector.
package distribution

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrUnsupported is returned by New for an unknown distribution kind.
	ErrUnsupported = errors.New("unsupported distribution")
	// ErrInvalid is returned for shape parameters outside a distribution's
	// admissible range.
	ErrInvalid = errors.New("invalid distribution parameters")
)

// Bound is a closed interval of one axis of a distribution's support.
type Bound struct {
	Low, High float64
}

// Width returns High-Low.
func (b Bound) Width() float64 { return b.High - b.Low }

// Distribution is a non-negative density with bounded support.
type Distribution interface {
	Dim() int
	// Domain returns the per-axis bounds sampled by the rejection sampler.
	Domain() []Bound
	Value(v []float64) float64
	// Max returns an upper bound of Value over Domain, attained for the
	// analytic kinds.
	Max() float64
}

// Inverter is implemented by distributions that can be sampled directly.
type Inverter interface {
	// ICDF maps uniform samples in [0, 1) to samples of the distribution in
	// place. len(us) must be a multiple of Dim.
	ICDF(us []float64)
}

// FluxMomenter is implemented by distributions with a closed form inflow
// moment.
type FluxMomenter interface {
	// FluxMoment returns the integral of max(0, v·n) f(v) for a unit normal n.
	FluxMoment(normal []float64) float64
}

// Kinds accepted by New.
const (
	KindMaxwellian  = "maxwellian"
	KindKappa       = "kappa"
	KindCairns      = "cairns"
	KindKappaCairns = "kappa-cairns"
)

// New builds a velocity distribution of the given kind. kappa is ignored by
// the Maxwellian and Cairns kinds and alpha by the Maxwellian and Kappa kinds.
func New(kind string, vth float64, vd []float64, kappa, alpha float64) (Distribution, error) {
	switch strings.ToLower(kind) {
	case KindMaxwellian:
		return NewMaxwellian(vth, vd)
	case KindKappa:
		return NewKappa(vth, vd, kappa)
	case KindCairns:
		return NewCairns(vth, vd, alpha)
	case KindKappaCairns, "kappacairns", "kappa_cairns":
		return NewKappaCairns(vth, vd, kappa, alpha)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, kind)
	}
}

// Supported reports whether New accepts kind.
func Supported(kind string) bool {
	switch strings.ToLower(kind) {
	case KindMaxwellian, KindKappa, KindCairns, KindKappaCairns, "kappacairns", "kappa_cairns":
		return true
	}
	return false
}

// HalfWidth returns the half width, in thermal speeds, of the domain New
// gives a distribution of the given kind, or 0 for an unsupported kind.
func HalfWidth(kind string) float64 {
	switch strings.ToLower(kind) {
	case KindMaxwellian:
		return maxwellianWidth
	case KindKappa, KindKappaCairns, "kappacairns", "kappa_cairns":
		return kappaWidth
	case KindCairns:
		return cairnsWidth
	}
	return 0
}

func checkThermal(vth float64, vd []float64) error {
	if !(vth > 0) || math.IsInf(vth, 0) {
		return fmt.Errorf("%w: thermal speed %g", ErrInvalid, vth)
	}
	if len(vd) < 1 || len(vd) > 3 {
		return fmt.Errorf("%w: drift has %d components", ErrInvalid, len(vd))
	}
	return nil
}

// centeredDomain returns vd ± width·vth on every axis.
func centeredDomain(vth float64, vd []float64, width float64) []Bound {
	d := make([]Bound, len(vd))
	for i, c := range vd {
		d[i] = Bound{Low: c - width*vth, High: c + width*vth}
	}
	return d
}

// reducedSpeed2 returns |v-vd|²/vth².
func reducedSpeed2(v, vd []float64, vth float64) float64 {
	s := 0.0
	for i, c := range vd {
		d := v[i] - c
		s += d * d
	}
	return s / (vth * vth)
}
