// Package physics holds the physical constants used to convert configured
// species parameters to SI units.
package physics

import "math"

const (
	// ElementaryCharge in C.
	ElementaryCharge = 1.602176634e-19
	// ElectronMass in kg.
	ElectronMass = 9.1093837015e-31
	// Eps0 is the vacuum permittivity in F/m.
	Eps0 = 8.8541878128e-12
	// Boltzmann constant in J/K.
	Boltzmann = 1.380649e-23
)

// PlasmaFrequency returns the angular plasma frequency of a species with
// charge q, number density n and mass m.
func PlasmaFrequency(q, n, m float64) float64 {
	if n <= 0 || m <= 0 {
		return 0
	}
	return math.Sqrt(q * q * n / (Eps0 * m))
}

// DebyeLength returns the Debye length of a species with thermal speed vth.
func DebyeLength(vth, q, n, m float64) float64 {
	wp := PlasmaFrequency(q, n, m)
	if wp == 0 {
		return math.Inf(1)
	}
	return vth / wp
}

// Temperature returns the temperature in K of a species of mass m with
// thermal speed vth, taking vth = sqrt(kT/m).
func Temperature(vth, m float64) float64 {
	return m * vth * vth / Boltzmann
}
