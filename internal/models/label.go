package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Label is a named group of source points (surface vertices or volume points)
// belonging to one parcel or structure. Labels are not modified after creation.
type Label struct {
	// Name is the display name of the parcel or segment
	Name string

	// Comment mirrors Name and is written to label files
	Comment string

	// Hemi is the hemisphere the label lives on
	Hemi Hemisphere

	// Subject is the owning subject
	Subject string

	// Vertices are indices into the owning surface or volume point set
	Vertices []int

	// Pos holds the position of each vertex, in meters
	Pos []r3.Vec

	// Values holds the parcel value of each vertex
	Values []float64
}

// Len returns the number of vertices in the label
func (l Label) Len() int { return len(l.Vertices) }

// Empty reports whether the label has no vertices
func (l Label) Empty() bool { return len(l.Vertices) == 0 }

// Centroid returns the mean position of the label.
// The zero vector is returned for an empty label.
func (l Label) Centroid() r3.Vec {
	if len(l.Pos) == 0 {
		return r3.Vec{}
	}
	xs := make([]float64, len(l.Pos))
	ys := make([]float64, len(l.Pos))
	zs := make([]float64, len(l.Pos))
	for i, p := range l.Pos {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return r3.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
}

// MergeLabels concatenates labels of one hemisphere into a single label.
// Vertices, positions and values are appended in input order, so merging is
// associative. The merged name joins the input names with " + ".
func MergeLabels(labels []Label) (Label, error) {
	if len(labels) == 0 {
		return Label{}, fmt.Errorf("cannot merge an empty list of labels")
	}

	n := 0
	for _, l := range labels {
		if l.Hemi != labels[0].Hemi {
			return Label{}, fmt.Errorf("cannot merge labels across hemispheres (%s, %s)", labels[0].Hemi, l.Hemi)
		}
		n += l.Len()
	}

	merged := Label{
		Hemi:     labels[0].Hemi,
		Subject:  labels[0].Subject,
		Vertices: make([]int, 0, n),
		Pos:      make([]r3.Vec, 0, n),
		Values:   make([]float64, 0, n),
	}
	for i, l := range labels {
		if i == 0 {
			merged.Name = l.Name
		} else {
			merged.Name += " + " + l.Name
		}
		merged.Vertices = append(merged.Vertices, l.Vertices...)
		merged.Pos = append(merged.Pos, l.Pos...)
		merged.Values = append(merged.Values, l.Values...)
	}
	merged.Comment = merged.Name
	return merged, nil
}
