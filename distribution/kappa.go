package distribution

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mathext"
)

// kappaWidth is the half width of the sampled domain in thermal speeds. Kappa
// tails decay algebraically so the window is wider than the Maxwellian one.
const kappaWidth = 12

// Kappa is the isotropic kappa distribution
//
//	A (1 + |v-vd|²/(κθ²))^-(κ+1),  θ² = (2κ-3)/κ vth²,
//
// whose second moment matches a Maxwellian of thermal speed vth.
type Kappa struct {
	Vth    float64
	Vd     []float64
	Kappa  float64
	norm   float64
	domain []Bound
}

func NewKappa(vth float64, vd []float64, kappa float64) (*Kappa, error) {
	if err := checkThermal(vth, vd); err != nil {
		return nil, err
	}
	if !(kappa > 1.5) {
		return nil, fmt.Errorf("%w: kappa %g must exceed 3/2", ErrInvalid, kappa)
	}
	d := len(vd)
	b := 2*kappa - 3
	return &Kappa{
		Vth:    vth,
		Vd:     append([]float64(nil), vd...),
		Kappa:  kappa,
		norm:   1 / (math.Pow(vth, float64(d)) * kappaMoment(d, 0, kappa, b)),
		domain: centeredDomain(vth, vd, kappaWidth),
	}, nil
}

func (k *Kappa) Dim() int        { return len(k.Vd) }
func (k *Kappa) Domain() []Bound { return k.domain }
func (k *Kappa) Max() float64    { return k.norm }

func (k *Kappa) Value(v []float64) float64 {
	u2 := reducedSpeed2(v, k.Vd, k.Vth)
	return k.norm * math.Pow(1+u2/(2*k.Kappa-3), -(k.Kappa + 1))
}

// KappaCairns combines the kappa tail with the Cairns non-thermal factor:
//
//	A (1 + α u⁴)(1 + u²/(2κ-3))^-(κ+1),  u = |v-vd|/vth.
type KappaCairns struct {
	Vth    float64
	Vd     []float64
	Kappa  float64
	Alpha  float64
	norm   float64
	max    float64
	domain []Bound
}

func NewKappaCairns(vth float64, vd []float64, kappa, alpha float64) (*KappaCairns, error) {
	if err := checkThermal(vth, vd); err != nil {
		return nil, err
	}
	if !(alpha >= 0) {
		return nil, fmt.Errorf("%w: alpha %g is negative", ErrInvalid, alpha)
	}
	d := len(vd)
	// The u⁴ term needs two more moments of the kappa tail to converge.
	minKappa := 1.5
	if alpha > 0 {
		minKappa = 1 + float64(d)/2
	}
	if !(kappa > minKappa) {
		return nil, fmt.Errorf("%w: kappa %g must exceed %g", ErrInvalid, kappa, minKappa)
	}

	b := 2*kappa - 3
	integral := kappaMoment(d, 0, kappa, b)
	if alpha > 0 {
		integral += alpha * kappaMoment(d, 2, kappa, b)
	}
	kc := &KappaCairns{
		Vth:    vth,
		Vd:     append([]float64(nil), vd...),
		Kappa:  kappa,
		Alpha:  alpha,
		norm:   1 / (math.Pow(vth, float64(d)) * integral),
		domain: centeredDomain(vth, vd, kappaWidth),
	}
	kc.max = kc.norm * kc.peak()
	return kc, nil
}

func (k *KappaCairns) Dim() int        { return len(k.Vd) }
func (k *KappaCairns) Domain() []Bound { return k.domain }
func (k *KappaCairns) Max() float64    { return k.max }

func (k *KappaCairns) Value(v []float64) float64 {
	return k.norm * k.shape(reducedSpeed2(v, k.Vd, k.Vth))
}

func (k *KappaCairns) shape(s float64) float64 {
	return (1 + k.Alpha*s*s) * math.Pow(1+s/(2*k.Kappa-3), -(k.Kappa + 1))
}

// peak returns the maximum of shape over s = u² >= 0. Stationary points solve
// α(1-κ)s² + 2αb s - (κ+1) = 0.
func (k *KappaCairns) peak() float64 {
	best := k.shape(0)
	if k.Alpha == 0 {
		return best
	}
	a := k.Alpha * (1 - k.Kappa)
	bq := 2 * k.Alpha * (2*k.Kappa - 3)
	c := -(k.Kappa + 1)
	for _, s := range quadraticRoots(a, bq, c) {
		if s > 0 {
			best = math.Max(best, k.shape(s))
		}
	}
	return best
}

// kappaMoment returns ∫ r^(2m) (1 + r²/b)^-(κ+1) d^d r over R^d.
func kappaMoment(d, m int, kappa, b float64) float64 {
	half := float64(d) / 2
	surface := 2 * math.Pow(math.Pi, half) / math.Gamma(half)
	p := half + float64(m)
	return 0.5 * surface * math.Pow(b, p) * mathext.Beta(p, kappa+1-p)
}

// quadraticRoots returns the real roots of a x² + b x + c.
func quadraticRoots(a, b, c float64) []float64 {
	if a == 0 {
		if b == 0 {
			return nil
		}
		return []float64{-c / b}
	}
	disc := b*b - 4*a*c
	if disc < 0 {
		return nil
	}
	sq := math.Sqrt(disc)
	return []float64{(-b + sq) / (2 * a), (-b - sq) / (2 * a)}
}
