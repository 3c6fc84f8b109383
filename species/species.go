// Package species describes the plasma species and precomputes their inflow
// through the boundary facets of the domain.
package species

import (
	"fmt"

	"github.com/pthm-cable/plasma/config"
	"github.com/pthm-cable/plasma/distribution"
	"github.com/pthm-cable/plasma/mesh"
	"github.com/pthm-cable/plasma/physics"
)

// Species is a population of super-particles sharing charge, mass and
// distributions. Q and M are per super-particle; N is the number density of
// super-particles.
type Species struct {
	Q, M float64
	N    float64
	// Num is the number of particles loaded at start.
	Num int
	Pdf distribution.Distribution
	Vdf distribution.Distribution
	// Flux is filled by CreateFlux.
	Flux Flux
}

// Flux holds per-facet inflow data, indexed like the facet list it was
// computed for.
type Flux struct {
	// NumParticles is the expected number of particles crossing each facet
	// per unit time and unit density: area times the inflow moment.
	NumParticles []float64
	// PdfMax bounds the flux-weighted velocity density on each facet.
	PdfMax []float64
}

// Rate returns the expected number of particles entering through facet i
// during dt.
func (s *Species) Rate(i int, dt float64) float64 {
	return s.Flux.NumParticles[i] * s.N * dt
}

// FromConfig builds the species of cfg on mesh m. Species with a particle
// count become super-particles of weight density·volume/num; a species with
// no particles to load keeps physical charge and mass.
func FromConfig(cfg *config.Config, m mesh.Mesh) ([]*Species, error) {
	lower, upper := m.Bounds()
	pdf := distribution.NewUniformPosition(m, lower, upper)
	volume := 0.0
	for c := 0; c < m.NumCells(); c++ {
		volume += m.CellVolume(c)
	}

	sc := &cfg.Species
	out := make([]*Species, sc.Len())
	for i := range out {
		vdf, err := distribution.New(sc.Distribution[i], sc.Thermal[i], cfg.Derived.Drift[i], sc.Kappa[i], sc.Alpha[i])
		if err != nil {
			return nil, fmt.Errorf("%w: species %d: %w", config.ErrInvalid, i, err)
		}

		npc, num := sc.Count(i)
		if npc > 0 {
			num = npc * m.NumCells()
		}
		density := sc.Density[i]
		weight := 1.0
		if num > 0 && density > 0 {
			weight = density * volume / float64(num)
		}
		out[i] = &Species{
			Q:   cfg.Derived.Charge[i] * weight,
			M:   cfg.Derived.Mass[i] * weight,
			N:   density / weight,
			Num: num,
			Pdf: pdf,
			Vdf: vdf,
		}
	}
	return out, nil
}

// PlasmaFrequency returns the plasma frequency of the physical species. The
// super-particle weight cancels.
func (s *Species) PlasmaFrequency() float64 {
	return physics.PlasmaFrequency(s.Q, s.N, s.M)
}
