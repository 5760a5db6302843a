package models

import "gonum.org/v1/gonum/spatial/r3"

// VolumeStructure is one discretized subcortical structure of a volume source model
type VolumeStructure struct {
	// Subject is the owning subject
	Subject string

	// SegName is the segment name used for labels; it ends in "lh" or "rh"
	SegName string

	// AsegName is the FreeSurfer segmentation name the points were taken from
	AsegName string

	// Points holds every candidate point of the structure, in meters
	Points []r3.Vec

	// InUse flags the points selected as sources
	InUse []bool

	// Vertno lists the indices of in-use points
	Vertno []int
}

// NUse returns the number of in-use points
func (v VolumeStructure) NUse() int { return len(v.Vertno) }
