package particles

// Position is the particle location. Only the first Dim components are used.
type Position [3]float64

// Velocity is the particle velocity. In 2D the third component may become
// nonzero under a magnetic field.
type Velocity [3]float64

// Charge holds the immutable charge and mass of a particle.
type Charge struct {
	Q float64
	M float64
}

// Speed2 returns |v|².
func (v *Velocity) Speed2() float64 {
	return v[0]*v[0] + v[1]*v[1] + v[2]*v[2]
}

// Record is a flat copy of one particle for diagnostics.
type Record struct {
	Cell int
	X    Position
	V    Velocity
	Q, M float64
}
