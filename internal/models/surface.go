package models

import "gonum.org/v1/gonum/spatial/r3"

// Surface represents a cortical source space built from a triangle mesh.
// Coordinates are always in meters and in the canonical (MRI) frame.
type Surface struct {
	// Subject is the subject this surface was loaded for
	Subject string

	// Hemi is the hemisphere of the mesh
	Hemi Hemisphere

	// ID is the hemisphere-specific source space id (101 left, 102 right)
	ID int

	// CoordFrame is the coordinate frame code of Coords
	CoordFrame int

	// Coords holds one position per vertex, in meters
	Coords []r3.Vec

	// Tris holds vertex indices of each triangle
	Tris [][3]int

	// InUse flags the vertices that act as sources
	InUse []bool

	// Vertno lists the indices of in-use vertices in ascending order
	Vertno []int

	// NUse is the number of in-use vertices
	NUse int

	// Normals holds unit vertex normals computed from the triangles
	Normals []r3.Vec

	// NeighborTris lists, per vertex, the triangles it belongs to
	NeighborTris [][]int

	// TriNormals holds the unit normal of each triangle
	TriNormals []r3.Vec

	// TriAreas holds the area of each triangle in square meters
	TriAreas []float64
}

// NP returns the number of vertices
func (s *Surface) NP() int { return len(s.Coords) }

// NTri returns the number of triangles
func (s *Surface) NTri() int { return len(s.Tris) }
