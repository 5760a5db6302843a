package surface

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"bv2src/internal/models"
	srcerr "bv2src/pkg/errors"
)

// CompleteInfo fills the derived topology of a surface: triangle normals and
// areas, vertex-to-triangle adjacency, and area-weighted unit vertex normals.
// Vertices that belong to no triangle keep a zero normal.
func CompleteInfo(s *models.Surface) error {
	np := len(s.Coords)
	for i, t := range s.Tris {
		for _, v := range t {
			if v < 0 || v >= np {
				return srcerr.NewMalformed(fmt.Sprintf("surface %s/%s", s.Subject, s.Hemi), 0,
					fmt.Sprintf("triangle %d references vertex %d of %d", i, v, np), nil)
			}
		}
	}

	s.TriNormals = make([]r3.Vec, len(s.Tris))
	s.TriAreas = make([]float64, len(s.Tris))
	s.NeighborTris = make([][]int, np)
	normals := make([]r3.Vec, np)

	for i, t := range s.Tris {
		a, b, c := s.Coords[t[0]], s.Coords[t[1]], s.Coords[t[2]]
		cross := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		size := r3.Norm(cross)
		s.TriAreas[i] = size / 2
		if size > 0 {
			s.TriNormals[i] = r3.Scale(1/size, cross)
		}

		for _, v := range t {
			s.NeighborTris[v] = append(s.NeighborTris[v], i)
			// the raw cross product weights each face by twice its area
			normals[v] = r3.Add(normals[v], cross)
		}
	}

	for i, n := range normals {
		if size := r3.Norm(n); size > 0 {
			normals[i] = r3.Scale(1/size, n)
		}
	}
	s.Normals = normals
	return nil
}
