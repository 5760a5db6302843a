// Package surface loads cortical triangle meshes into canonical source-space
// surfaces: transformed into the MRI frame, in meters, with completed topology.
package surface

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"bv2src/internal/models"
	srcerr "bv2src/pkg/errors"
	"bv2src/pkg/gifti"
	"bv2src/pkg/logging"
	"bv2src/pkg/transform"
)

// MillimetersToMeters is the default coordinate scale
const MillimetersToMeters = 1e-3

type options struct {
	trans *transform.Source
	scale float64
}

// Option configures Load
type Option func(*options)

// WithTransform applies the given affine to coordinates before rescaling.
// Without it coordinates are left in the file's frame.
func WithTransform(src transform.Source) Option {
	return func(o *options) { o.trans = &src }
}

// WithScale overrides the millimeter-to-meter scale factor
func WithScale(f float64) Option {
	return func(o *options) { o.scale = f }
}

// Load reads a mesh, trying the FreeSurfer format first and GIFTI second,
// and returns a complete Surface.
func Load(path, subject string, hemi models.Hemisphere, opts ...Option) (*models.Surface, error) {
	o := options{scale: MillimetersToMeters}
	for _, opt := range opts {
		opt(&o)
	}

	coords, tris, causes := readMesh(path)
	if causes != nil {
		return nil, &srcerr.UnsupportedSurfaceFormatError{
			Subject: subject, Hemi: string(hemi), Path: path, Causes: causes,
		}
	}

	if o.trans != nil {
		m, err := o.trans.Affine()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve transform %s: %w", o.trans, err)
		}
		coords = transform.Apply(m, coords)
	}

	for i := range coords {
		coords[i] = r3.Scale(o.scale, coords[i])
	}

	s := &models.Surface{
		Subject:    subject,
		Hemi:       hemi,
		ID:         hemi.SurfaceID(),
		CoordFrame: models.CoordFrameMRI,
		Coords:     coords,
		Tris:       tris,
		InUse:      make([]bool, len(coords)),
		Vertno:     make([]int, len(coords)),
		NUse:       len(coords),
	}
	for i := range coords {
		s.InUse[i] = true
		s.Vertno[i] = i
	}

	if err := CompleteInfo(s); err != nil {
		return nil, err
	}

	logging.Default().Debug().
		Str("subject", subject).
		Str("hemi", string(hemi)).
		Str("path", path).
		Int("vertices", s.NP()).
		Int("triangles", s.NTri()).
		Msg("surface loaded")
	return s, nil
}

// readMesh returns the mesh from the first reader that accepts the file, or
// one error per reader when none does.
func readMesh(path string) ([]r3.Vec, [][3]int, []error) {
	coords, tris, fsErr := ReadFreeSurfer(path)
	if fsErr == nil {
		return coords, tris, nil
	}

	coords, tris, giiErr := readGiftiMesh(path)
	if giiErr == nil {
		return coords, tris, nil
	}

	return nil, nil, []error{
		fmt.Errorf("freesurfer: %w", fsErr),
		fmt.Errorf("gifti: %w", giiErr),
	}
}

func readGiftiMesh(path string) ([]r3.Vec, [][3]int, error) {
	img, err := gifti.Read(path)
	if err != nil {
		return nil, nil, err
	}

	pts := img.Find(gifti.IntentPointSet)
	faces := img.Find(gifti.IntentTriangle)
	if pts == nil || faces == nil {
		if len(img.DataArrays) < 2 {
			return nil, nil, fmt.Errorf("expected a point set and a triangle array")
		}
		pts, faces = img.DataArrays[0], img.DataArrays[1]
	}
	if len(pts.Dims) != 2 || pts.Dims[1] != 3 {
		return nil, nil, fmt.Errorf("point set must be Nx3, got %v", pts.Dims)
	}
	if len(faces.Dims) != 2 || faces.Dims[1] != 3 {
		return nil, nil, fmt.Errorf("triangle array must be Mx3, got %v", faces.Dims)
	}

	coords := make([]r3.Vec, pts.Len())
	for i := range coords {
		coords[i] = r3.Vec{X: pts.Values[3*i], Y: pts.Values[3*i+1], Z: pts.Values[3*i+2]}
	}
	idx := faces.Ints()
	tris := make([][3]int, faces.Len())
	for i := range tris {
		tris[i] = [3]int{idx[3*i], idx[3*i+1], idx[3*i+2]}
	}
	return coords, tris, nil
}
