package sampling

import (
	"fmt"
	"math/rand"
)

// FacetPoints writes n points distributed uniformly over a simplex facet into
// dst. A facet of one vertex is a point, two vertices a segment and three a
// triangle.
func FacetPoints(dst []float64, n int, vertices [][]float64, rng *rand.Rand) {
	if len(vertices) == 0 {
		panic("sampling: facet without vertices")
	}
	d := len(vertices[0])
	if len(dst) < n*d {
		panic(fmt.Sprintf("sampling: dst holds %d values, need %d", len(dst), n*d))
	}

	switch len(vertices) {
	case 1:
		for i := 0; i < n; i++ {
			copy(dst[i*d:(i+1)*d], vertices[0])
		}
	case 2:
		a, b := vertices[0], vertices[1]
		for i := 0; i < n; i++ {
			r := rng.Float64()
			p := dst[i*d : (i+1)*d]
			for k := range p {
				p[k] = a[k] + r*(b[k]-a[k])
			}
		}
	case 3:
		a, b, c := vertices[0], vertices[1], vertices[2]
		for i := 0; i < n; i++ {
			r1, r2 := rng.Float64(), rng.Float64()
			// Fold the far half of the unit square back onto the triangle.
			if r1+r2 > 1 {
				r1, r2 = 1-r1, 1-r2
			}
			p := dst[i*d : (i+1)*d]
			for k := range p {
				p[k] = a[k] + r1*(b[k]-a[k]) + r2*(c[k]-a[k])
			}
		}
	default:
		panic(fmt.Sprintf("sampling: facet with %d vertices", len(vertices)))
	}
}
