// Package mesh defines the discretization contracts consumed by the particle
// kernel and provides a structured simplex mesh that satisfies them.
package mesh

// Locator finds the cell containing a point.
type Locator interface {
	Dim() int
	// Locate returns the id of the cell containing x, or a negative value when
	// x lies outside the domain.
	Locate(x []float64) int
}

// Mesh is the discretization collaborator: geometry of cells, the P1 basis and
// the boundary facets through which plasma flows in.
type Mesh interface {
	Locator

	NumCells() int
	// NumDofs returns the number of grid degrees of freedom (one per vertex).
	NumDofs() int
	CellVolume(cell int) float64
	// CellDofs returns the dofs of a cell in the order used by BasisValues.
	CellDofs(cell int) []int
	// BasisValues evaluates the basis functions of cell at x into dst and
	// returns it. dst must have room for len(CellDofs(cell)) values.
	BasisValues(cell int, x []float64, dst []float64) []float64
	// VertexCells returns the cells adjacent to a vertex.
	VertexCells(vertex int) []int
	ExteriorFacets() []Facet
	Bounds() (lower, upper []float64)
}

// Facet is a boundary element of the domain.
type Facet struct {
	// Normal is the outward unit normal.
	Normal   []float64
	Vertices [][]float64
	// Area is the facet measure: 1 for a point, a length in 2D and an area
	// in 3D.
	Area float64
}

// Inward returns the unit normal pointing into the domain.
func (f *Facet) Inward() []float64 {
	in := make([]float64, len(f.Normal))
	for i, n := range f.Normal {
		in[i] = -n
	}
	return in
}

// Centroid returns the mean of the facet vertices.
func (f *Facet) Centroid() []float64 {
	if len(f.Vertices) == 0 {
		return nil
	}
	c := make([]float64, len(f.Vertices[0]))
	for _, v := range f.Vertices {
		for i := range c {
			c[i] += v[i]
		}
	}
	for i := range c {
		c[i] /= float64(len(f.Vertices))
	}
	return c
}
