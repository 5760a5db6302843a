package volume

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"bv2src/internal/models"
	"bv2src/pkg/logging"
)

// Structure pairs a segmentation code with the names it is known by
type Structure struct {
	// Code is the voxel value of the structure in the labeled volume
	Code int `yaml:"code"`

	// AsegName is the FreeSurfer aseg name, e.g. Left-Thalamus-Proper
	AsegName string `yaml:"aseg"`

	// SegName is the label name; it must end with lh or rh
	SegName string `yaml:"segment"`
}

// DefaultStructures are the subcortical structures of the MarsAtlas volume model
var DefaultStructures = []Structure{
	{26, "Left-Accumbens-area", "NAc_lh"},
	{18, "Left-Amygdala", "Amyg_lh"},
	{11, "Left-Caudate", "Cd_lh"},
	{17, "Left-Hippocampus", "Hipp_lh"},
	{13, "Left-Pallidum", "GP_lh"},
	{12, "Left-Putamen", "Put_lh"},
	{10, "Left-Thalamus-Proper", "Thal_lh"},
	{58, "Right-Accumbens-area", "NAc_rh"},
	{54, "Right-Amygdala", "Amyg_rh"},
	{50, "Right-Caudate", "Cd_rh"},
	{53, "Right-Hippocampus", "Hipp_rh"},
	{52, "Right-Pallidum", "GP_rh"},
	{51, "Right-Putamen", "Put_rh"},
	{49, "Right-Thalamus-Proper", "Thal_rh"},
}

// DefaultSpacing is the grid step between volume sources, in millimeters
const DefaultSpacing = 5.0

// GridBuilder discretizes labeled-volume structures on a regular grid
type GridBuilder struct {
	// Spacing is the grid step in millimeters
	Spacing float64

	// Structures lists the structures to build, in output order
	Structures []Structure
}

// NewGridBuilder returns a builder for the default structures
func NewGridBuilder(spacing float64) *GridBuilder {
	return &GridBuilder{Spacing: spacing, Structures: slices.Clone(DefaultStructures)}
}

// Build reads the labeled volume and returns one VolumeStructure per
// structure present in it. Every voxel of a structure becomes a candidate
// point; the voxels nearest to the grid nodes are the sources in use.
func (g *GridBuilder) Build(ctx context.Context, subject, volumePath string) ([]models.VolumeStructure, error) {
	if g.Spacing <= 0 {
		return nil, fmt.Errorf("grid spacing must be positive, got %g", g.Spacing)
	}
	logger := logging.FromContext(ctx)

	img, err := ReadNIfTI(volumePath)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int][]voxelPoint, len(g.Structures))
	for _, s := range g.Structures {
		wanted[s.Code] = nil
	}
	for k := 0; k < img.Dims[2]; k++ {
		for j := 0; j < img.Dims[1]; j++ {
			for i := 0; i < img.Dims[0]; i++ {
				code := img.At(i, j, k)
				if pts, ok := wanted[code]; ok {
					p := img.Position(i, j, k)
					wanted[code] = append(pts, voxelPoint{X: p.X, Y: p.Y, Z: p.Z, Index: len(pts)})
				}
			}
		}
	}

	var set []models.VolumeStructure
	for _, s := range g.Structures {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		voxels := wanted[s.Code]
		if len(voxels) == 0 {
			logger.Warn().
				Str("subject", subject).
				Str("structure", s.AsegName).
				Int("code", s.Code).
				Msg("structure has no voxels, skipping")
			continue
		}

		selected := g.selectSources(voxels)
		if len(selected) == 0 {
			return nil, fmt.Errorf("structure %s of subject %s: 0 sources selected from %d voxels",
				s.AsegName, subject, len(voxels))
		}

		vs := models.VolumeStructure{
			Subject:  subject,
			SegName:  s.SegName,
			AsegName: s.AsegName,
			Points:   make([]r3.Vec, len(voxels)),
			InUse:    make([]bool, len(voxels)),
			Vertno:   selected,
		}
		for i, v := range voxels {
			vs.Points[i] = r3.Scale(1e-3, r3.Vec{X: v.X, Y: v.Y, Z: v.Z})
		}
		for _, v := range selected {
			vs.InUse[v] = true
		}
		set = append(set, vs)

		logger.Debug().
			Str("subject", subject).
			Str("structure", s.SegName).
			Int("voxels", len(voxels)).
			Int("sources", len(selected)).
			Msg("volume structure discretized")
	}
	return set, nil
}

// selectSources lays a grid from the lower corner of the voxel bounding
// box and returns, sorted, the indices of the voxels nearest to each node
// that lie within half a grid diagonal of it.
func (g *GridBuilder) selectSources(voxels []voxelPoint) []int {
	lo := voxelPoint{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := voxelPoint{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, v := range voxels {
		lo.X, lo.Y, lo.Z = min(lo.X, v.X), min(lo.Y, v.Y), min(lo.Z, v.Z)
		hi.X, hi.Y, hi.Z = max(hi.X, v.X), max(hi.Y, v.Y), max(hi.Z, v.Z)
	}

	// the tree reorders its input, so it gets its own copy
	tree := kdtree.New(voxelPoints(slices.Clone(voxels)), true)
	limit := g.Spacing * math.Sqrt(3) / 2
	limit *= limit // Distance is squared

	steps := func(a, b float64) int { return int(math.Floor((b-a)/g.Spacing)) + 1 }
	nx, ny, nz := steps(lo.X, hi.X), steps(lo.Y, hi.Y), steps(lo.Z, hi.Z)

	chosen := make(map[int]bool)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				node := voxelPoint{
					X: lo.X + float64(i)*g.Spacing,
					Y: lo.Y + float64(j)*g.Spacing,
					Z: lo.Z + float64(k)*g.Spacing,
				}
				nearest, dist := tree.Nearest(node)
				if nearest != nil && dist <= limit {
					chosen[nearest.(voxelPoint).Index] = true
				}
			}
		}
	}

	selected := make([]int, 0, len(chosen))
	for idx := range chosen {
		selected = append(selected, idx)
	}
	slices.Sort(selected)
	return selected
}

// voxelPoint is a voxel position in millimeters with its index in the
// structure's point list
type voxelPoint struct {
	X, Y, Z float64
	Index   int
}

// Compare implements the kdtree.Comparable interface
func (p voxelPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(voxelPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions
func (p voxelPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p voxelPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(voxelPoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// voxelPoints satisfies kdtree.Interface
type voxelPoints []voxelPoint

func (p voxelPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p voxelPoints) Len() int                              { return len(p) }
func (p voxelPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p voxelPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(voxelPlane{voxelPoints: p, Dim: d}, kdtree.MedianOfRandoms(voxelPlane{voxelPoints: p, Dim: d}, 100))
}

// voxelPlane implements sort.Interface and kdtree.SortSlicer for voxelPoints
type voxelPlane struct {
	voxelPoints
	kdtree.Dim
}

func (p voxelPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.voxelPoints[i].X < p.voxelPoints[j].X
	case 1:
		return p.voxelPoints[i].Y < p.voxelPoints[j].Y
	case 2:
		return p.voxelPoints[i].Z < p.voxelPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p voxelPlane) Slice(start, end int) kdtree.SortSlicer {
	return voxelPlane{voxelPoints: p.voxelPoints[start:end], Dim: p.Dim}
}

func (p voxelPlane) Swap(i, j int) {
	p.voxelPoints[i], p.voxelPoints[j] = p.voxelPoints[j], p.voxelPoints[i]
}
