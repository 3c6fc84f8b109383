// Package pusher advances particle velocities and positions.
//
// Velocities live at half steps and positions at whole steps (leapfrog). The
// first velocity update of a run therefore uses half a timestep; see StepDT.
package pusher

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/plasma/field"
	"github.com/pthm-cable/plasma/parallel"
	"github.com/pthm-cable/plasma/particles"
)

// MagneticThreshold is the field norm below which a run is treated as
// electrostatic.
const MagneticThreshold = 1e-10

// Pusher updates velocities over dt and returns the total kinetic energy
// after the update.
type Pusher func(pop *particles.Population, e field.Field, dt float64, pool *parallel.Pool) float64

// Select returns Boris for a magnetic field b and Accel otherwise.
func Select(b [3]float64) Pusher {
	if !Magnetized(b) {
		return Accel
	}
	return func(pop *particles.Population, e field.Field, dt float64, pool *parallel.Pool) float64 {
		return Boris(pop, e, b, dt, pool)
	}
}

// Magnetized reports whether b is strong enough to require Boris rotation.
func Magnetized(b [3]float64) bool {
	return field.Norm(b) >= MagneticThreshold
}

// StepDT returns the velocity timestep of the given step: half of dt on the
// first step, dt afterwards.
func StepDT(step int, dt float64) float64 {
	if step == 0 {
		return 0.5 * dt
	}
	return dt
}

// forEachCell runs fn over the particles of every cell on the pool and sums
// the per-slot results in slot order.
func forEachCell(pop *particles.Population, pool *parallel.Pool, fn func(cell int, e ecs.Entity, buf []float64) float64) float64 {
	sums := make([]float64, pool.Workers())
	pool.Run(pop.NumCells(), func(slot, start, end int) {
		var buf [3]float64
		s := 0.0
		for c := start; c < end; c++ {
			for _, e := range pop.Cell(c) {
				s += fn(c, e, buf[:])
			}
		}
		sums[slot] = s
	})
	total := 0.0
	for _, s := range sums {
		total += s
	}
	return total
}

// Accel applies v += (q/m) E dt.
func Accel(pop *particles.Population, e field.Field, dt float64, pool *parallel.Pool) float64 {
	dim := pop.Dim()
	return forEachCell(pop, pool, func(cell int, ent ecs.Entity, buf []float64) float64 {
		pos, vel, ch := pop.Get(ent)
		ef := e.At(cell, pos[:dim], buf)
		k := ch.Q / ch.M * dt
		for i := range 3 {
			vel[i] += k * ef[i]
		}
		return 0.5 * ch.M * vel.Speed2()
	})
}

// Boris applies the Boris scheme: half an electric kick, a rotation about b
// and a second half kick. With E = 0 the speed is preserved to rounding.
func Boris(pop *particles.Population, e field.Field, b [3]float64, dt float64, pool *parallel.Pool) float64 {
	dim := pop.Dim()
	bv := r3.Vec{X: b[0], Y: b[1], Z: b[2]}
	return forEachCell(pop, pool, func(cell int, ent ecs.Entity, buf []float64) float64 {
		pos, vel, ch := pop.Get(ent)
		ef := e.At(cell, pos[:dim], buf)
		half := 0.5 * ch.Q / ch.M * dt
		kick := r3.Scale(half, r3.Vec{X: ef[0], Y: ef[1], Z: ef[2]})

		t := r3.Scale(half, bv)
		s := r3.Scale(2/(1+r3.Norm2(t)), t)

		vMinus := r3.Add(r3.Vec{X: vel[0], Y: vel[1], Z: vel[2]}, kick)
		vPrime := r3.Add(vMinus, r3.Cross(vMinus, t))
		vPlus := r3.Add(vMinus, r3.Cross(vPrime, s))
		v := r3.Add(vPlus, kick)

		vel[0], vel[1], vel[2] = v.X, v.Y, v.Z
		return 0.5 * ch.M * r3.Norm2(v)
	})
}

// Move advances positions by v dt. It does not relocate particles; call
// Population.Update afterwards.
func Move(pop *particles.Population, dt float64, pool *parallel.Pool) {
	dim := pop.Dim()
	forEachCell(pop, pool, func(_ int, ent ecs.Entity, _ []float64) float64 {
		pos, vel, _ := pop.Get(ent)
		for i := 0; i < dim; i++ {
			pos[i] += vel[i] * dt
		}
		return 0
	})
}

// KineticEnergy returns the total kinetic energy of the population.
func KineticEnergy(pop *particles.Population) float64 {
	return pop.KineticEnergy()
}
