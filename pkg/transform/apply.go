package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Apply maps every point through a homogeneous affine and returns the
// Euclidean part. The input is left untouched. m must have 4 columns and at
// least 3 rows.
func Apply(m mat.Matrix, pts []r3.Vec) []r3.Vec {
	r, c := m.Dims()
	if r < 3 || c != 4 {
		panic(mat.ErrShape)
	}

	var a [3][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			a[i][j] = m.At(i, j)
		}
	}

	out := make([]r3.Vec, len(pts))
	for k, p := range pts {
		out[k] = r3.Vec{
			X: a[0][0]*p.X + a[0][1]*p.Y + a[0][2]*p.Z + a[0][3],
			Y: a[1][0]*p.X + a[1][1]*p.Y + a[1][2]*p.Z + a[1][3],
			Z: a[2][0]*p.X + a[2][1]*p.Y + a[2][2]*p.Z + a[2][3],
		}
	}
	return out
}

// ApplyFile loads the affine at path with Load and applies it
func ApplyFile(path string, pts []r3.Vec) ([]r3.Vec, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Apply(m, pts), nil
}

// Source is an explicit transform argument: either an in-memory matrix or a
// file to load it from.
type Source struct {
	matrix *mat.Dense
	path   string
}

// FromMatrix wraps an in-memory affine. The matrix is copied.
func FromMatrix(m mat.Matrix) Source {
	return Source{matrix: mat.DenseCopyOf(m)}
}

// FromFile refers to an affine stored on disk
func FromFile(path string) Source {
	return Source{path: path}
}

// Affine resolves the source to a 4x4 matrix
func (s Source) Affine() (*mat.Dense, error) {
	if s.matrix != nil {
		return mat.DenseCopyOf(s.matrix), nil
	}
	if s.path == "" {
		return nil, fmt.Errorf("transform source is empty")
	}
	return Load(s.path)
}

// String describes the source for logs
func (s Source) String() string {
	if s.matrix != nil {
		return "in-memory"
	}
	return s.path
}
