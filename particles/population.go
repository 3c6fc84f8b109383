// Package particles stores the plasma particles, partitioned by the mesh cell
// that contains them.
package particles

import (
	"fmt"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/plasma/mesh"
)

// Absorber is an internal boundary that removes particles entering it.
type Absorber interface {
	// Contains reports whether x lies inside the object.
	Contains(x []float64) bool
	// OnParticleAbsorbed is called once for every particle removed by the
	// object, with the cell the particle was indexed in.
	OnParticleAbsorbed(cell int, q float64)
}

// UpdateStats counts the structural changes made by Update.
type UpdateStats struct {
	Moved    int
	Removed  int
	Absorbed int
}

// Population owns every live particle. Particles are ECS entities; the
// per-cell index lists are the only record of which cell holds which particle.
//
// Structural changes (AddParticles, Update) must not run concurrently with any
// other access.
type Population struct {
	mesh mesh.Mesh
	dim  int

	world     *ecs.World
	particles *ecs.Map3[Position, Velocity, Charge]
	posMap    *ecs.Map1[Position]
	velMap    *ecs.Map1[Velocity]
	chargeMap *ecs.Map1[Charge]

	cells [][]ecs.Entity

	// relocation buffer reused across updates
	pending []relocation
}

type relocation struct {
	entity ecs.Entity
	cell   int
}

// NewPopulation creates an empty population over the cells of m.
func NewPopulation(m mesh.Mesh) *Population {
	world := ecs.NewWorld()
	return &Population{
		mesh:      m,
		dim:       m.Dim(),
		world:     world,
		particles: ecs.NewMap3[Position, Velocity, Charge](world),
		posMap:    ecs.NewMap1[Position](world),
		velMap:    ecs.NewMap1[Velocity](world),
		chargeMap: ecs.NewMap1[Charge](world),
		cells:     make([][]ecs.Entity, m.NumCells()),
	}
}

func (p *Population) Dim() int                { return p.dim }
func (p *Population) Mesh() mesh.Mesh         { return p.mesh }
func (p *Population) NumCells() int           { return len(p.cells) }
func (p *Population) Cell(c int) []ecs.Entity { return p.cells[c] }

// Locate returns the cell containing x, negative outside the domain.
func (p *Population) Locate(x []float64) int {
	return p.mesh.Locate(x)
}

// AddParticles inserts one particle per Dim-sized slice of xs and vs.
// Particles outside the domain are dropped. It returns the number inserted.
func (p *Population) AddParticles(xs, vs []float64, q, m float64) int {
	if len(xs) != len(vs) || len(xs)%p.dim != 0 {
		panic(fmt.Sprintf("particles: %d positions and %d velocities for dimension %d", len(xs), len(vs), p.dim))
	}

	added := 0
	charge := Charge{Q: q, M: m}
	for i := 0; i < len(xs); i += p.dim {
		x := xs[i : i+p.dim]
		cell := p.mesh.Locate(x)
		if cell < 0 {
			continue
		}
		var pos Position
		var vel Velocity
		copy(pos[:], x)
		copy(vel[:], vs[i:i+p.dim])
		c := charge
		e := p.particles.NewEntity(&pos, &vel, &c)
		p.cells[cell] = append(p.cells[cell], e)
		added++
	}
	return added
}

// AddRecords inserts particles from records, keeping all velocity
// components. The cell of each record is recomputed. It returns the number
// inserted.
func (p *Population) AddRecords(records []Record) int {
	added := 0
	for i := range records {
		r := &records[i]
		cell := p.mesh.Locate(r.X[:p.dim])
		if cell < 0 {
			continue
		}
		pos, vel := r.X, r.V
		c := Charge{Q: r.Q, M: r.M}
		e := p.particles.NewEntity(&pos, &vel, &c)
		p.cells[cell] = append(p.cells[cell], e)
		added++
	}
	return added
}

// Update relocates every particle after a position change. Particles inside
// an absorber are removed and reported to it; particles that left the domain
// are removed.
func (p *Population) Update(absorbers ...Absorber) UpdateStats {
	var stats UpdateStats
	p.pending = p.pending[:0]

	for c := range p.cells {
		list := p.cells[c]
		for i := 0; i < len(list); {
			e := list[i]
			pos := p.posMap.Get(e)
			x := pos[:p.dim]

			if a := findAbsorber(absorbers, x); a != nil {
				a.OnParticleAbsorbed(c, p.chargeMap.Get(e).Q)
				p.world.RemoveEntity(e)
				list = swapRemove(list, i)
				stats.Absorbed++
				continue
			}

			nc := p.mesh.Locate(x)
			if nc == c {
				i++
				continue
			}
			list = swapRemove(list, i)
			if nc < 0 {
				p.world.RemoveEntity(e)
				stats.Removed++
				continue
			}
			p.pending = append(p.pending, relocation{entity: e, cell: nc})
		}
		p.cells[c] = list
	}

	for _, r := range p.pending {
		p.cells[r.cell] = append(p.cells[r.cell], r.entity)
	}
	stats.Moved = len(p.pending)
	return stats
}

func findAbsorber(absorbers []Absorber, x []float64) Absorber {
	for _, a := range absorbers {
		if a.Contains(x) {
			return a
		}
	}
	return nil
}

// swapRemove deletes list[i] by moving the last element into its place.
func swapRemove(list []ecs.Entity, i int) []ecs.Entity {
	last := len(list) - 1
	list[i] = list[last]
	return list[:last]
}

// Get returns the components of a particle.
func (p *Population) Get(e ecs.Entity) (*Position, *Velocity, *Charge) {
	return p.particles.Get(e)
}

func (p *Population) Position(e ecs.Entity) *Position { return p.posMap.Get(e) }
func (p *Population) Velocity(e ecs.Entity) *Velocity { return p.velMap.Get(e) }
func (p *Population) Charge(e ecs.Entity) Charge      { return *p.chargeMap.Get(e) }

// Alive reports whether the particle still exists.
func (p *Population) Alive(e ecs.Entity) bool { return p.world.Alive(e) }

// ForEach visits every particle, cell by cell.
func (p *Population) ForEach(fn func(cell int, e ecs.Entity)) {
	for c, list := range p.cells {
		for _, e := range list {
			fn(c, e)
		}
	}
}

// NumOfParticles counts the live particles.
func (p *Population) NumOfParticles() int {
	n := 0
	for _, list := range p.cells {
		n += len(list)
	}
	return n
}

// NumOfPositives counts particles with positive charge.
func (p *Population) NumOfPositives() int {
	return p.countCharge(func(q float64) bool { return q > 0 })
}

// NumOfNegatives counts particles with negative charge.
func (p *Population) NumOfNegatives() int {
	return p.countCharge(func(q float64) bool { return q < 0 })
}

func (p *Population) countCharge(keep func(q float64) bool) int {
	n := 0
	for _, list := range p.cells {
		for _, e := range list {
			if keep(p.chargeMap.Get(e).Q) {
				n++
			}
		}
	}
	return n
}

// TotalCharge sums the charge of all particles.
func (p *Population) TotalCharge() float64 {
	q := 0.0
	p.ForEach(func(_ int, e ecs.Entity) {
		q += p.chargeMap.Get(e).Q
	})
	return q
}

// KineticEnergy sums ½ m |v|² over all particles.
func (p *Population) KineticEnergy() float64 {
	ke := 0.0
	p.ForEach(func(_ int, e ecs.Entity) {
		ke += 0.5 * p.chargeMap.Get(e).M * p.velMap.Get(e).Speed2()
	})
	return ke
}

// Snapshot copies every particle into dst and returns it.
func (p *Population) Snapshot(dst []Record) []Record {
	dst = dst[:0]
	p.ForEach(func(c int, e ecs.Entity) {
		pos, vel, ch := p.particles.Get(e)
		dst = append(dst, Record{Cell: c, X: *pos, V: *vel, Q: ch.Q, M: ch.M})
	})
	return dst
}
