// Package parcel turns per-vertex parcel ids into named cortical labels.
//
// A vertex ends up in the label of its parcel only when it is a corner of at
// least one triangle whose three corners all carry that parcel id. Isolated
// boundary vertices are dropped so that labels have no single-vertex islands.
package parcel

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"bv2src/internal/models"
	srcerr "bv2src/pkg/errors"
	"bv2src/pkg/logging"
)

// UnnamedParcel names parcels missing from the lookup table
const UnnamedParcel = "no_name"

// ExcludeMode selects how Extractor.Exclude entries are matched
type ExcludeMode int

const (
	// ExcludeByPosition drops the labels at the listed positions of the
	// id-ordered label list.
	ExcludeByPosition ExcludeMode = iota

	// ExcludeByID drops the labels whose parcel id is listed.
	ExcludeByID
)

// String returns the config spelling of the mode
func (m ExcludeMode) String() string {
	if m == ExcludeByID {
		return "id"
	}
	return "position"
}

// ParseExcludeMode parses "position" or "id"
func ParseExcludeMode(s string) (ExcludeMode, error) {
	switch s {
	case "", "position":
		return ExcludeByPosition, nil
	case "id":
		return ExcludeByID, nil
	}
	return 0, fmt.Errorf("exclude mode must be position or id, got %q", s)
}

// DefaultExclude drops white matter (0) and its mirrored counterpart (42)
var DefaultExclude = []int{0, 42}

// Extractor builds labels from a surface and its parcel ids
type Extractor struct {
	// Exclude lists the labels to drop, matched according to Mode
	Exclude []int

	// Mode selects positional or id matching of Exclude
	Mode ExcludeMode
}

// NewExtractor returns an extractor with the default exclusion list
func NewExtractor() *Extractor {
	return &Extractor{Exclude: slices.Clone(DefaultExclude), Mode: ExcludeByPosition}
}

// Extract returns one label per distinct parcel id, in ascending id order,
// minus the excluded ones. A parcel with no interior triangle gives an
// empty label.
func (e *Extractor) Extract(surf *models.Surface, src ValuesSource, lookup Lookup) ([]models.Label, error) {
	values, err := src.Values()
	if err != nil {
		return nil, err
	}
	if len(values) != surf.NP() {
		return nil, srcerr.NewMalformed(src.String(), 0,
			fmt.Sprintf("%d parcel values for a surface of %d vertices", len(values), surf.NP()), nil)
	}

	// A triangle is interior to parcel v when its three corners all carry v.
	interior := make([]bool, len(values))
	for i, t := range surf.Tris {
		for _, v := range t {
			if v < 0 || v >= len(values) {
				return nil, srcerr.NewMalformed(src.String(), 0,
					fmt.Sprintf("triangle %d references vertex %d of %d", i, v, len(values)), nil)
			}
		}
		if values[t[0]] == values[t[1]] && values[t[1]] == values[t[2]] {
			interior[t[0]], interior[t[1]], interior[t[2]] = true, true, true
		}
	}

	members := make(map[int][]int)
	for i, v := range values {
		if _, ok := members[v]; !ok {
			members[v] = nil
		}
		if interior[i] {
			members[v] = append(members[v], i)
		}
	}

	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	labels := make([]models.Label, 0, len(ids))
	for _, id := range ids {
		labels = append(labels, newLabel(surf, id, lookup.Name(id), members[id]))
	}

	kept := e.exclude(ids, labels)
	logging.Default().Debug().
		Str("subject", surf.Subject).
		Str("hemi", string(surf.Hemi)).
		Str("values", src.String()).
		Int("parcels", len(ids)).
		Int("labels", len(kept)).
		Msg("parcels extracted")
	return kept, nil
}

// ExtractMerged extracts the labels and merges them into a single label
// for the hemisphere.
func (e *Extractor) ExtractMerged(surf *models.Surface, src ValuesSource, lookup Lookup) (models.Label, error) {
	labels, err := e.Extract(surf, src, lookup)
	if err != nil {
		return models.Label{}, err
	}
	merged, err := models.MergeLabels(labels)
	if err != nil {
		return models.Label{}, fmt.Errorf("failed to merge %s labels of %s: %w", surf.Hemi, surf.Subject, err)
	}
	return merged, nil
}

func (e *Extractor) exclude(ids []int, labels []models.Label) []models.Label {
	if len(e.Exclude) == 0 {
		return labels
	}

	kept := make([]models.Label, 0, len(labels))
	for pos, l := range labels {
		key := pos
		if e.Mode == ExcludeByID {
			key = ids[pos]
		}
		if !slices.Contains(e.Exclude, key) {
			kept = append(kept, l)
		}
	}
	return kept
}

func newLabel(surf *models.Surface, id int, name string, vertices []int) models.Label {
	l := models.Label{
		Name:     name,
		Comment:  name,
		Hemi:     surf.Hemi,
		Subject:  surf.Subject,
		Vertices: vertices,
		Pos:      make([]r3.Vec, len(vertices)),
		Values:   make([]float64, len(vertices)),
	}
	for i, v := range vertices {
		l.Pos[i] = surf.Coords[v]
		l.Values[i] = float64(id)
	}
	return l
}

// RejectByName drops the labels whose name is listed and returns the
// remaining labels together with the vertices of the dropped ones.
func RejectByName(labels []models.Label, names []string) ([]models.Label, []int) {
	var (
		kept     []models.Label
		rejected []int
	)
	for _, l := range labels {
		if slices.Contains(names, l.Name) {
			rejected = append(rejected, l.Vertices...)
			continue
		}
		kept = append(kept, l)
	}
	return kept, rejected
}
