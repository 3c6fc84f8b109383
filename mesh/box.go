package mesh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MaxDim is the largest supported geometric dimension.
const MaxDim = 3

// Box is an axis-aligned box split into a structured grid of hyper-rectangles,
// each cut into d! simplices along the Kuhn triangulation. Simplex k of a
// rectangle walks from its lower corner along the axes in the order of the
// k-th permutation, so point location reduces to sorting local coordinates.
type Box struct {
	dim        int
	lower      []float64
	upper      []float64
	h          []float64
	n          []int
	boxStride  []int
	vertStride []int
	numBoxes   int

	perms      [][]int
	permLookup []int

	coords      [][]float64
	cellVerts   [][]int
	volumes     []float64
	vertexCells [][]int
	facets      []Facet
}

// NewBox builds a mesh of the box [lower, upper] with cells[i] rectangles
// along axis i.
func NewBox(lower, upper []float64, cells []int) (*Box, error) {
	dim := len(lower)
	if dim < 1 || dim > MaxDim {
		return nil, fmt.Errorf("mesh dimension %d not in [1, %d]", dim, MaxDim)
	}
	if len(upper) != dim || len(cells) != dim {
		return nil, fmt.Errorf("mesh bounds and cell counts must all have %d entries", dim)
	}
	for i := 0; i < dim; i++ {
		if !(upper[i] > lower[i]) {
			return nil, fmt.Errorf("mesh axis %d: upper %g not above lower %g", i, upper[i], lower[i])
		}
		if cells[i] < 1 {
			return nil, fmt.Errorf("mesh axis %d: %d cells", i, cells[i])
		}
	}

	b := &Box{
		dim:        dim,
		lower:      append([]float64(nil), lower...),
		upper:      append([]float64(nil), upper...),
		h:          make([]float64, dim),
		n:          append([]int(nil), cells...),
		boxStride:  make([]int, dim),
		vertStride: make([]int, dim),
	}

	b.numBoxes = 1
	numVerts := 1
	for i := 0; i < dim; i++ {
		b.h[i] = (upper[i] - lower[i]) / float64(cells[i])
		b.boxStride[i] = b.numBoxes
		b.vertStride[i] = numVerts
		b.numBoxes *= cells[i]
		numVerts *= cells[i] + 1
	}

	b.coords = make([][]float64, numVerts)
	for v := range b.coords {
		x := make([]float64, dim)
		for i := 0; i < dim; i++ {
			k := b.vertexIndex(v, i)
			if k == b.n[i] {
				x[i] = b.upper[i]
			} else {
				x[i] = b.lower[i] + float64(k)*b.h[i]
			}
		}
		b.coords[v] = x
	}

	b.perms = permutations(dim)
	b.permLookup = make([]int, ipow(dim, dim))
	for i := range b.permLookup {
		b.permLookup[i] = -1
	}
	for i, p := range b.perms {
		b.permLookup[permCode(p, dim)] = i
	}

	b.buildCells()
	b.buildFacets()

	return b, nil
}

func (b *Box) buildCells() {
	numCells := b.numBoxes * len(b.perms)
	b.cellVerts = make([][]int, numCells)
	b.volumes = make([]float64, numCells)
	b.vertexCells = make([][]int, len(b.coords))

	corner := make([]int, b.dim)
	pts := make([][]float64, b.dim+1)
	for box := 0; box < b.numBoxes; box++ {
		for i := 0; i < b.dim; i++ {
			corner[i] = (box / b.boxStride[i]) % b.n[i]
		}
		for pi, p := range b.perms {
			cell := box*len(b.perms) + pi
			verts := make([]int, b.dim+1)

			v := 0
			for i := 0; i < b.dim; i++ {
				v += corner[i] * b.vertStride[i]
			}
			verts[0] = v
			for k := 0; k < b.dim; k++ {
				v += b.vertStride[p[k]]
				verts[k+1] = v
			}

			for k, vk := range verts {
				pts[k] = b.coords[vk]
				b.vertexCells[vk] = append(b.vertexCells[vk], cell)
			}
			b.cellVerts[cell] = verts
			b.volumes[cell] = simplexMeasure(pts)
		}
	}
}

func (b *Box) buildFacets() {
	facetVerts := make([]int, 0, b.dim)
	for _, verts := range b.cellVerts {
		for skip := range verts {
			facetVerts = facetVerts[:0]
			for k, v := range verts {
				if k != skip {
					facetVerts = append(facetVerts, v)
				}
			}

			axis, side := b.boundaryPlane(facetVerts)
			if axis < 0 {
				continue
			}

			normal := make([]float64, b.dim)
			normal[axis] = float64(side)
			pts := make([][]float64, len(facetVerts))
			for k, v := range facetVerts {
				pts[k] = append([]float64(nil), b.coords[v]...)
			}
			b.facets = append(b.facets, Facet{
				Normal:   normal,
				Vertices: pts,
				Area:     simplexMeasure(pts),
			})
		}
	}
}

// boundaryPlane reports the boundary plane shared by all vertices: the axis
// and -1 for the lower face or +1 for the upper face. axis is -1 for interior
// facets.
func (b *Box) boundaryPlane(verts []int) (axis, side int) {
	for a := 0; a < b.dim; a++ {
		allLow, allHigh := true, true
		for _, v := range verts {
			k := b.vertexIndex(v, a)
			allLow = allLow && k == 0
			allHigh = allHigh && k == b.n[a]
		}
		if allLow {
			return a, -1
		}
		if allHigh {
			return a, 1
		}
	}
	return -1, 0
}

func (b *Box) vertexIndex(v, axis int) int {
	return (v / b.vertStride[axis]) % (b.n[axis] + 1)
}

// Dim returns the geometric dimension.
func (b *Box) Dim() int { return b.dim }

// NumCells returns the number of simplices.
func (b *Box) NumCells() int { return len(b.cellVerts) }

// NumDofs returns the number of vertices.
func (b *Box) NumDofs() int { return len(b.coords) }

// CellVolume returns the measure of a simplex.
func (b *Box) CellVolume(cell int) float64 { return b.volumes[cell] }

// CellDofs returns the vertex ids of a simplex. The slice is shared and must
// not be modified.
func (b *Box) CellDofs(cell int) []int { return b.cellVerts[cell] }

// VertexCells returns the simplices sharing a vertex. The slice is shared.
func (b *Box) VertexCells(vertex int) []int { return b.vertexCells[vertex] }

// ExteriorFacets returns the boundary facets. The slice is shared.
func (b *Box) ExteriorFacets() []Facet { return b.facets }

// Vertex returns the coordinates of a vertex.
func (b *Box) Vertex(v int) []float64 { return b.coords[v] }

// Bounds returns copies of the lower and upper corners.
func (b *Box) Bounds() (lower, upper []float64) {
	return append([]float64(nil), b.lower...), append([]float64(nil), b.upper...)
}

// Locate returns the simplex containing x, or -1 outside the box. Points on
// shared faces go to one of the adjacent cells deterministically.
func (b *Box) Locate(x []float64) int {
	var t [MaxDim]float64
	box := 0
	for i := 0; i < b.dim; i++ {
		if !(x[i] >= b.lower[i] && x[i] <= b.upper[i]) {
			return -1
		}
		s := (x[i] - b.lower[i]) / b.h[i]
		k := int(s)
		if k >= b.n[i] {
			k = b.n[i] - 1
		}
		t[i] = s - float64(k)
		box += k * b.boxStride[i]
	}

	var p [MaxDim]int
	for i := 0; i < b.dim; i++ {
		p[i] = i
	}
	for i := 1; i < b.dim; i++ {
		for j := i; j > 0 && t[p[j]] > t[p[j-1]]; j-- {
			p[j], p[j-1] = p[j-1], p[j]
		}
	}

	return box*len(b.perms) + b.permLookup[permCode(p[:b.dim], b.dim)]
}

// BasisValues evaluates the barycentric coordinates of x with respect to the
// simplex. Points outside the simplex yield extrapolated values.
func (b *Box) BasisValues(cell int, x []float64, dst []float64) []float64 {
	box := cell / len(b.perms)
	p := b.perms[cell%len(b.perms)]

	var t [MaxDim]float64
	for i := 0; i < b.dim; i++ {
		c := (box / b.boxStride[i]) % b.n[i]
		t[i] = (x[i]-b.lower[i])/b.h[i] - float64(c)
	}

	dst = dst[:b.dim+1]
	dst[0] = 1 - t[p[0]]
	for k := 1; k < b.dim; k++ {
		dst[k] = t[p[k-1]] - t[p[k]]
	}
	dst[b.dim] = t[p[b.dim-1]]
	return dst
}

// Contains reports whether x lies in the closed simplex, up to rounding.
func (b *Box) Contains(cell int, x []float64) bool {
	var buf [MaxDim + 1]float64
	for _, l := range b.BasisValues(cell, x, buf[:]) {
		if l < -1e-12 {
			return false
		}
	}
	return true
}

// Centroid returns the barycenter of a simplex.
func (b *Box) Centroid(cell int) []float64 {
	c := make([]float64, b.dim)
	verts := b.cellVerts[cell]
	for _, v := range verts {
		for i := range c {
			c[i] += b.coords[v][i]
		}
	}
	for i := range c {
		c[i] /= float64(len(verts))
	}
	return c
}

// simplexMeasure returns the k-dimensional measure of the simplex spanned by
// k+1 points, sqrt(det(E E^T))/k! with E the matrix of edge vectors.
func simplexMeasure(pts [][]float64) float64 {
	k := len(pts) - 1
	if k == 0 {
		return 1
	}
	dim := len(pts[0])
	e := mat.NewDense(k, dim, nil)
	for i := 1; i <= k; i++ {
		for j := 0; j < dim; j++ {
			e.Set(i-1, j, pts[i][j]-pts[0][j])
		}
	}
	var gram mat.Dense
	gram.Mul(e, e.T())
	det := mat.Det(&gram)
	if det < 0 {
		det = 0
	}
	return math.Sqrt(det) / factorial(k)
}

// permutations returns all permutations of 0..n-1 in lexicographic order.
func permutations(n int) [][]int {
	var out [][]int
	perm := make([]int, 0, n)
	used := make([]bool, n)
	var rec func()
	rec = func() {
		if len(perm) == n {
			out = append(out, append([]int(nil), perm...))
			return
		}
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			perm = append(perm, i)
			rec()
			perm = perm[:len(perm)-1]
			used[i] = false
		}
	}
	rec()
	return out
}

func permCode(p []int, base int) int {
	code, mul := 0, 1
	for _, x := range p {
		code += x * mul
		mul *= base
	}
	return code
}

func ipow(x, n int) int {
	r := 1
	for i := 0; i < n; i++ {
		r *= x
	}
	return r
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}
