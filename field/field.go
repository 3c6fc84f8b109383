// Package field defines the electric field contract consumed by the pusher.
package field

import "gonum.org/v1/gonum/spatial/r3"

// Field evaluates the electric field inside a cell.
type Field interface {
	// At writes the three field components at x, which lies in cell, into
	// dst and returns it.
	At(cell int, x []float64, dst []float64) []float64
}

// Uniform is a constant field.
type Uniform struct {
	E [3]float64
}

func (u Uniform) At(_ int, _ []float64, dst []float64) []float64 {
	dst = dst[:3]
	copy(dst, u.E[:])
	return dst
}

// Func adapts a function to the Field interface.
type Func func(cell int, x []float64, dst []float64) []float64

func (f Func) At(cell int, x []float64, dst []float64) []float64 { return f(cell, x, dst) }

// Norm returns the Euclidean norm of a field vector.
func Norm(v [3]float64) float64 {
	return r3.Norm(r3.Vec{X: v[0], Y: v[1], Z: v[2]})
}
