// Package distributor deposits particle charge onto the vertices of the mesh.
package distributor

import (
	"github.com/pthm-cable/plasma/mesh"
	"github.com/pthm-cable/plasma/parallel"
	"github.com/pthm-cable/plasma/particles"
)

// VoronoiVolumes returns the inverse effective volume of every vertex,
// (dim+1) divided by the total volume of the cells sharing it. Vertices
// without adjacent volume get 0.
func VoronoiVolumes(m mesh.Mesh) []float64 {
	dvInv := make([]float64, m.NumDofs())
	scale := float64(m.Dim() + 1)
	for v := range dvInv {
		vol := 0.0
		for _, c := range m.VertexCells(v) {
			vol += m.CellVolume(c)
		}
		if vol > 0 {
			dvInv[v] = scale / vol
		}
	}
	return dvInv
}

// Distributor scatters particle quantities to mesh vertices with the P1
// basis. Work is split over cells; each pool slot accumulates into its own
// buffer and the buffers are summed in slot order.
type Distributor struct {
	mesh  mesh.Mesh
	dvInv []float64
	pool  *parallel.Pool

	scratch [][]float64
}

// New precomputes the vertex volumes of m.
func New(m mesh.Mesh, pool *parallel.Pool) *Distributor {
	d := &Distributor{
		mesh:    m,
		dvInv:   VoronoiVolumes(m),
		pool:    pool,
		scratch: make([][]float64, pool.Workers()),
	}
	for i := range d.scratch {
		d.scratch[i] = make([]float64, m.NumDofs())
	}
	return d
}

// DvInv returns the inverse vertex volumes.
func (d *Distributor) DvInv() []float64 { return d.dvInv }

// Distribute returns the charge density at every vertex.
func (d *Distributor) Distribute(pop *particles.Population) []float64 {
	rho := make([]float64, d.mesh.NumDofs())
	d.deposit(pop, func(c particles.Charge) float64 { return c.Q }, rho)
	return rho
}

// Density returns the number densities of negative and positive particles.
func (d *Distributor) Density(pop *particles.Population) (ne, ni []float64) {
	ne = make([]float64, d.mesh.NumDofs())
	ni = make([]float64, d.mesh.NumDofs())
	d.deposit(pop, func(c particles.Charge) float64 {
		if c.Q < 0 {
			return 1
		}
		return 0
	}, ne)
	d.deposit(pop, func(c particles.Charge) float64 {
		if c.Q > 0 {
			return 1
		}
		return 0
	}, ni)
	return ne, ni
}

func (d *Distributor) deposit(pop *particles.Population, weight func(particles.Charge) float64, out []float64) {
	for _, buf := range d.scratch {
		clear(buf)
	}
	dim := d.mesh.Dim()

	d.pool.Run(pop.NumCells(), func(slot, start, end int) {
		acc := d.scratch[slot]
		var phiBuf [mesh.MaxDim + 1]float64
		for c := start; c < end; c++ {
			dofs := d.mesh.CellDofs(c)
			for _, e := range pop.Cell(c) {
				pos, _, ch := pop.Get(e)
				w := weight(*ch)
				if w == 0 {
					continue
				}
				phi := d.mesh.BasisValues(c, pos[:dim], phiBuf[:len(dofs)])
				for i, dof := range dofs {
					acc[dof] += w * phi[i]
				}
			}
		}
	})

	for _, buf := range d.scratch {
		for i, v := range buf {
			out[i] += v
		}
	}
	for i := range out {
		out[i] *= d.dvInv[i]
	}
}

// PotentialEnergy returns ½ Σ q φ(x) for a potential given at the vertices.
func (d *Distributor) PotentialEnergy(pop *particles.Population, phi []float64) float64 {
	dim := d.mesh.Dim()
	sums := make([]float64, d.pool.Workers())
	d.pool.Run(pop.NumCells(), func(slot, start, end int) {
		var phiBuf [mesh.MaxDim + 1]float64
		s := 0.0
		for c := start; c < end; c++ {
			dofs := d.mesh.CellDofs(c)
			for _, e := range pop.Cell(c) {
				pos, _, ch := pop.Get(e)
				basis := d.mesh.BasisValues(c, pos[:dim], phiBuf[:len(dofs)])
				u := 0.0
				for i, dof := range dofs {
					u += phi[dof] * basis[i]
				}
				s += ch.Q * u
			}
		}
		sums[slot] = s
	})
	pe := 0.0
	for _, s := range sums {
		pe += s
	}
	return 0.5 * pe
}
