package models

import "fmt"

// Hemisphere identifies the cortical hemisphere a surface or label belongs to
type Hemisphere string

const (
	Left  Hemisphere = "lh"
	Right Hemisphere = "rh"
)

// Hemispheres lists both hemispheres in processing order
var Hemispheres = []Hemisphere{Left, Right}

// Surface ids distinguishing left and right source spaces
const (
	LeftSurfaceID  = 101
	RightSurfaceID = 102
)

// CoordFrameMRI is the MRI (surface RAS) coordinate frame code
const CoordFrameMRI = 5

// ParseHemisphere converts "lh"/"rh" into a Hemisphere
func ParseHemisphere(s string) (Hemisphere, error) {
	switch Hemisphere(s) {
	case Left, Right:
		return Hemisphere(s), nil
	}
	return "", fmt.Errorf("hemisphere must be lh or rh, got %q", s)
}

// SurfaceID returns the integer tag assigned to surfaces of this hemisphere
func (h Hemisphere) SurfaceID() int {
	if h == Right {
		return RightSurfaceID
	}
	return LeftSurfaceID
}

// Letter returns the single upper-case letter used by parcel lookup tables
func (h Hemisphere) Letter() string {
	if h == Right {
		return "R"
	}
	return "L"
}

// Opposite returns the other hemisphere
func (h Hemisphere) Opposite() Hemisphere {
	if h == Right {
		return Left
	}
	return Right
}
