// Package volume builds subcortical volume source models and their labels.
package volume

import (
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"bv2src/internal/models"
	srcerr "bv2src/pkg/errors"
)

// ValueOffset is added to the structure index to form volume label values,
// keeping them clear of surface parcel ids.
const ValueOffset = 200

// Labels builds one label per structure. Structure k gets the value
// ValueOffset+k and the hemisphere named by its segment suffix.
func Labels(set []models.VolumeStructure) ([]models.Label, error) {
	labels := make([]models.Label, 0, len(set))
	for k, vs := range set {
		hemi, err := segmentHemisphere(vs)
		if err != nil {
			return nil, err
		}

		vertices := slices.Clone(vs.Vertno)
		slices.Sort(vertices)

		l := models.Label{
			Name:     vs.SegName,
			Comment:  vs.SegName,
			Hemi:     hemi,
			Subject:  vs.Subject,
			Vertices: vertices,
			Pos:      make([]r3.Vec, len(vertices)),
			Values:   make([]float64, len(vertices)),
		}
		for i, v := range vertices {
			if v < 0 || v >= len(vs.Points) {
				return nil, srcerr.NewMalformed(vs.SegName, 0,
					fmt.Sprintf("source index %d outside %d points", v, len(vs.Points)), nil)
			}
			l.Pos[i] = vs.Points[v]
			l.Values[i] = float64(ValueOffset + k)
		}
		labels = append(labels, l)
	}
	return labels, nil
}

// BuildLabels builds the structure labels and merges them per hemisphere.
func BuildLabels(set []models.VolumeStructure) (left, right models.Label, err error) {
	labels, err := Labels(set)
	if err != nil {
		return left, right, err
	}

	var lh, rh []models.Label
	for _, l := range labels {
		if l.Hemi == models.Left {
			lh = append(lh, l)
		} else {
			rh = append(rh, l)
		}
	}

	if left, err = models.MergeLabels(lh); err != nil {
		return left, right, fmt.Errorf("left volume labels: %w", err)
	}
	if right, err = models.MergeLabels(rh); err != nil {
		return left, right, fmt.Errorf("right volume labels: %w", err)
	}
	return left, right, nil
}

func segmentHemisphere(vs models.VolumeStructure) (models.Hemisphere, error) {
	switch {
	case strings.HasSuffix(vs.SegName, string(models.Left)):
		return models.Left, nil
	case strings.HasSuffix(vs.SegName, string(models.Right)):
		return models.Right, nil
	}
	return "", &srcerr.UnrecognizedHemisphereSuffixError{Subject: vs.Subject, Segment: vs.SegName}
}
