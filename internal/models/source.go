package models

import "gonum.org/v1/gonum/spatial/r3"

// SourceKind distinguishes surface from volume source spaces
type SourceKind string

const (
	KindSurface SourceKind = "surf"
	KindVolume  SourceKind = "vol"
)

// SourceSpace is the persisted form of a surface or a volume structure
type SourceSpace struct {
	// Kind is surf or vol
	Kind SourceKind

	// Name is the hemisphere of a surface or the segment name of a volume structure
	Name string

	// ID is the surface id (101/102); zero for volume structures
	ID int

	// Subject is the owning subject
	Subject string

	// Coords are the candidate points, in meters
	Coords []r3.Vec

	// InUse flags the points used as sources
	InUse []bool

	// Tris holds the triangles of a surface; nil for volumes
	Tris [][3]int
}

// NP returns the number of points
func (s SourceSpace) NP() int { return len(s.Coords) }

// NUse returns the number of in-use points
func (s SourceSpace) NUse() int {
	n := 0
	for _, u := range s.InUse {
		if u {
			n++
		}
	}
	return n
}

// SurfaceSource converts a surface into its persisted form
func SurfaceSource(s *Surface) SourceSpace {
	return SourceSpace{
		Kind:    KindSurface,
		Name:    string(s.Hemi),
		ID:      s.ID,
		Subject: s.Subject,
		Coords:  s.Coords,
		InUse:   s.InUse,
		Tris:    s.Tris,
	}
}

// VolumeSource converts a volume structure into its persisted form
func VolumeSource(v VolumeStructure) SourceSpace {
	return SourceSpace{
		Kind:    KindVolume,
		Name:    v.SegName,
		Subject: v.Subject,
		Coords:  v.Points,
		InUse:   v.InUse,
	}
}
