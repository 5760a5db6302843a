package surface

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"bv2src/internal/models"
	srcerr "bv2src/pkg/errors"
	"bv2src/pkg/gifti"
	"bv2src/pkg/transform"
)

// square returns a unit square in the z=0 plane split into two triangles (in mm)
func square() ([]r3.Vec, [][3]int) {
	coords := []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 0}, {X: 10, Y: 10, Z: 0}, {X: 0, Y: 10, Z: 0}}
	tris := [][3]int{{0, 1, 2}, {0, 2, 3}}
	return coords, tris
}

func vecNear(t *testing.T, want, got r3.Vec) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9)
	assert.InDelta(t, want.Y, got.Y, 1e-9)
	assert.InDelta(t, want.Z, got.Z, 1e-9)
}

func TestLoadFreeSurfer(t *testing.T) {
	coords, tris := square()
	path := filepath.Join(t.TempDir(), "lh.white")
	require.NoError(t, WriteFreeSurfer(path, coords, tris))

	s, err := Load(path, "subject_01", models.Left)
	require.NoError(t, err)

	assert.Equal(t, "subject_01", s.Subject)
	assert.Equal(t, models.LeftSurfaceID, s.ID)
	assert.Equal(t, models.CoordFrameMRI, s.CoordFrame)
	assert.Equal(t, 4, s.NP())
	assert.Equal(t, 2, s.NTri())
	assert.Equal(t, 4, s.NUse)
	assert.Equal(t, []int{0, 1, 2, 3}, s.Vertno)
	assert.Equal(t, []bool{true, true, true, true}, s.InUse)
	vecNear(t, r3.Vec{X: 0.01, Y: 0.01}, s.Coords[2])

	for _, n := range s.Normals {
		vecNear(t, r3.Vec{Z: 1}, n)
	}
	assert.Equal(t, [][]int{{0, 1}, {0}, {0, 1}, {1}}, s.NeighborTris)
	assert.InDelta(t, 0.5e-4, s.TriAreas[0], 1e-12)
}

func TestLoadAppliesTransformBeforeScaling(t *testing.T) {
	coords, tris := square()
	path := filepath.Join(t.TempDir(), "rh.white")
	require.NoError(t, WriteFreeSurfer(path, coords, tris))

	m := transform.Identity()
	m.Set(0, 3, 100) // mm
	m.Set(2, 3, -20)

	s, err := Load(path, "s1", models.Right, WithTransform(transform.FromMatrix(m)))
	require.NoError(t, err)
	assert.Equal(t, models.RightSurfaceID, s.ID)
	vecNear(t, r3.Vec{X: 0.1, Y: 0, Z: -0.02}, s.Coords[0])
	vecNear(t, r3.Vec{X: 0.11, Y: 0.01, Z: -0.02}, s.Coords[2])

	t.Run("transform from file", func(t *testing.T) {
		tpath := filepath.Join(t.TempDir(), "s1-trans.trm")
		require.NoError(t, transform.Write(tpath, m))
		s2, err := Load(path, "s1", models.Right, WithTransform(transform.FromFile(tpath)))
		require.NoError(t, err)
		assert.Equal(t, s.Coords, s2.Coords)
	})

	t.Run("custom scale", func(t *testing.T) {
		s3, err := Load(path, "s1", models.Right, WithScale(1))
		require.NoError(t, err)
		assert.Equal(t, coords, s3.Coords)
	})
}

func TestLoadGiftiFallback(t *testing.T) {
	coords, tris := square()
	img := &gifti.Image{DataArrays: []*gifti.DataArray{
		{Intent: gifti.IntentPointSet, DataType: gifti.TypeFloat32, Dims: []int{4, 3}},
		{Intent: gifti.IntentTriangle, DataType: gifti.TypeInt32, Dims: []int{2, 3}},
	}}
	for _, c := range coords {
		img.DataArrays[0].Values = append(img.DataArrays[0].Values, c.X, c.Y, c.Z)
	}
	for _, tri := range tris {
		img.DataArrays[1].Values = append(img.DataArrays[1].Values, float64(tri[0]), float64(tri[1]), float64(tri[2]))
	}
	path := filepath.Join(t.TempDir(), "subject_01_Lwhite.gii")
	require.NoError(t, gifti.Write(path, img))

	s, err := Load(path, "subject_01", models.Left)
	require.NoError(t, err)
	assert.Equal(t, tris, s.Tris)
	vecNear(t, r3.Vec{X: 0.01, Y: 0.01}, s.Coords[2])
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("unsupported format", func(t *testing.T) {
		path := filepath.Join(dir, "junk.surf")
		require.NoError(t, os.WriteFile(path, []byte("definitely not a mesh"), 0644))
		_, err := Load(path, "s1", models.Left)
		var unsupported *srcerr.UnsupportedSurfaceFormatError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "s1", unsupported.Subject)
		assert.Equal(t, "lh", unsupported.Hemi)
		assert.Len(t, unsupported.Causes, 2)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope"), "s1", models.Left)
		assert.ErrorIs(t, err, srcerr.ErrUnsupportedSurfaceFormat)
	})

	t.Run("triangle out of range", func(t *testing.T) {
		coords, _ := square()
		path := filepath.Join(dir, "bad.white")
		require.NoError(t, WriteFreeSurfer(path, coords, [][3]int{{0, 1, 9}}))
		_, err := Load(path, "s1", models.Left)
		assert.True(t, srcerr.IsMalformedNumericContent(err))
	})
}

func TestCompleteInfoDegenerate(t *testing.T) {
	s := &models.Surface{
		Coords: []r3.Vec{{}, {X: 1}, {X: 2}, {Y: 5}},
		Tris:   [][3]int{{0, 1, 2}},
	}
	require.NoError(t, CompleteInfo(s))
	assert.Equal(t, r3.Vec{}, s.TriNormals[0])
	assert.Equal(t, 0.0, s.TriAreas[0])
	assert.Equal(t, r3.Vec{}, s.Normals[3], "isolated vertex keeps a zero normal")
	assert.False(t, math.IsNaN(s.Normals[0].X))
}
