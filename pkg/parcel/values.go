package parcel

import (
	"fmt"

	"bv2src/pkg/gifti"
)

// ValuesSource supplies the per-vertex parcel ids, either held in memory or
// read from a GIFTI texture.
type ValuesSource struct {
	values []int
	path   string
}

// FromArray uses the given ids. The slice is copied.
func FromArray(values []int) ValuesSource {
	return ValuesSource{values: append([]int(nil), values...)}
}

// FromTexture reads the ids from the first data array of a GIFTI texture
func FromTexture(path string) ValuesSource {
	return ValuesSource{path: path}
}

// Values returns the parcel ids
func (s ValuesSource) Values() ([]int, error) {
	if s.path == "" {
		return append([]int(nil), s.values...), nil
	}

	img, err := gifti.Read(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read texture %s: %w", s.path, err)
	}
	return img.DataArrays[0].Ints(), nil
}

// String describes the source for log lines
func (s ValuesSource) String() string {
	if s.path != "" {
		return s.path
	}
	return fmt.Sprintf("array(%d)", len(s.values))
}

// WriteTexture stores per-vertex parcel ids as a GIFTI label texture
func WriteTexture(path string, values []int) error {
	da := &gifti.DataArray{
		Intent:   gifti.IntentLabel,
		DataType: gifti.TypeInt32,
		Dims:     []int{len(values)},
		Values:   make([]float64, len(values)),
	}
	for i, v := range values {
		da.Values[i] = float64(v)
	}
	return gifti.Write(path, &gifti.Image{DataArrays: []*gifti.DataArray{da}})
}
