package field

// Solver turns a vertex charge density into the field used by the pusher and
// the potential at every vertex.
type Solver interface {
	Solve(rho []float64) (Field, []float64)
}

// Vertexer lists mesh vertex coordinates.
type Vertexer interface {
	NumDofs() int
	Vertex(v int) []float64
}

// UniformSolver ignores the charge density and returns a constant external
// field. The potential is -E·x, zero at the origin.
type UniformSolver struct {
	field Uniform
	phi   []float64
}

// NewUniformSolver precomputes the potential of e at the vertices of m.
func NewUniformSolver(e [3]float64, m Vertexer) *UniformSolver {
	phi := make([]float64, m.NumDofs())
	for v := range phi {
		for i, x := range m.Vertex(v) {
			phi[v] -= e[i] * x
		}
	}
	return &UniformSolver{field: Uniform{E: e}, phi: phi}
}

func (s *UniformSolver) Solve(_ []float64) (Field, []float64) { return s.field, s.phi }
