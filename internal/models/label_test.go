package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func label(name string, hemi Hemisphere, verts ...int) Label {
	l := Label{Name: name, Comment: name, Hemi: hemi, Subject: "s1"}
	for _, v := range verts {
		l.Vertices = append(l.Vertices, v)
		l.Pos = append(l.Pos, r3.Vec{X: float64(v)})
		l.Values = append(l.Values, float64(len(name)))
	}
	return l
}

func TestMergeLabels(t *testing.T) {
	a := label("A", Left, 0, 1)
	b := label("BB", Left, 5)
	c := label("CCC", Left, 7, 8)

	t.Run("concatenates in order", func(t *testing.T) {
		m, err := MergeLabels([]Label{a, b, c})
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 5, 7, 8}, m.Vertices)
		assert.Equal(t, []float64{1, 1, 2, 3, 3}, m.Values)
		assert.Equal(t, "A + BB + CCC", m.Name)
		assert.Equal(t, Left, m.Hemi)
	})

	t.Run("associative", func(t *testing.T) {
		ab, err := MergeLabels([]Label{a, b})
		require.NoError(t, err)
		left, err := MergeLabels([]Label{ab, c})
		require.NoError(t, err)

		bc, err := MergeLabels([]Label{b, c})
		require.NoError(t, err)
		right, err := MergeLabels([]Label{a, bc})
		require.NoError(t, err)

		assert.Equal(t, left.Vertices, right.Vertices)
		assert.Equal(t, left.Pos, right.Pos)
		assert.Equal(t, left.Values, right.Values)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := MergeLabels(nil)
		assert.Error(t, err)
	})

	t.Run("mixed hemispheres", func(t *testing.T) {
		_, err := MergeLabels([]Label{a, label("R", Right, 3)})
		assert.Error(t, err)
	})
}

func TestCentroid(t *testing.T) {
	l := Label{Pos: []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 2, Y: 4, Z: 6}}}
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, l.Centroid())
	assert.Equal(t, r3.Vec{}, Label{}.Centroid())
}

func TestHemisphere(t *testing.T) {
	h, err := ParseHemisphere("rh")
	require.NoError(t, err)
	assert.Equal(t, RightSurfaceID, h.SurfaceID())
	assert.Equal(t, LeftSurfaceID, Left.SurfaceID())
	assert.Equal(t, "R", h.Letter())
	assert.Equal(t, Left, h.Opposite())

	_, err = ParseHemisphere("both")
	assert.Error(t, err)
}
