package gifti

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const asciiMesh = `<?xml version="1.0" encoding="UTF-8"?>
<GIFTI Version="1.0" NumberOfDataArrays="2">
  <DataArray Intent="NIFTI_INTENT_POINTSET" DataType="NIFTI_TYPE_FLOAT32" ArrayIndexingOrder="RowMajorOrder"
             Dimensionality="2" Dim0="3" Dim1="3" Encoding="ASCII" Endian="LittleEndian" ExternalFileName="">
    <MetaData></MetaData>
    <Data>0 0 0
          1 0 0
          0 1 0</Data>
  </DataArray>
  <DataArray Intent="NIFTI_INTENT_TRIANGLE" DataType="NIFTI_TYPE_INT32" ArrayIndexingOrder="ColumnMajorOrder"
             Dimensionality="2" Dim0="2" Dim1="3" Encoding="ASCII" Endian="LittleEndian" ExternalFileName="">
    <Data>0 2 1 0 2 1</Data>
  </DataArray>
</GIFTI>`

func TestDecodeASCII(t *testing.T) {
	img, err := Decode(strings.NewReader(asciiMesh))
	require.NoError(t, err)
	require.Len(t, img.DataArrays, 2)

	pts := img.Find(IntentPointSet)
	require.NotNil(t, pts)
	assert.Equal(t, []int{3, 3}, pts.Dims)
	assert.Equal(t, []float64{0, 0, 0, 1, 0, 0, 0, 1, 0}, pts.Values)

	tris := img.Find(IntentTriangle)
	require.NotNil(t, tris)
	assert.Equal(t, 2, tris.Len())
	// column-major [[0,1,2],[2,0,1]] stored as columns 0 2 | 1 0 | 2 1
	assert.Equal(t, []int{0, 1, 2, 2, 0, 1}, tris.Ints())

	assert.Nil(t, img.Find(IntentLabel))
}

func TestDecodeBigEndianBase64(t *testing.T) {
	var raw bytes.Buffer
	for _, v := range []int32{7, -3, 42} {
		require.NoError(t, binary.Write(&raw, binary.BigEndian, v))
	}
	doc := fmt.Sprintf(`<GIFTI Version="1.0" NumberOfDataArrays="1">
<DataArray Intent="NIFTI_INTENT_LABEL" DataType="NIFTI_TYPE_INT32" Dimensionality="1" Dim0="3"
           Encoding="Base64Binary" Endian="BigEndian"><Data>%s</Data></DataArray></GIFTI>`,
		base64.StdEncoding.EncodeToString(raw.Bytes()))

	img, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []int{7, -3, 42}, img.DataArrays[0].Ints())
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lh.white.gii")
	in := &Image{DataArrays: []*DataArray{
		{Intent: IntentPointSet, DataType: TypeFloat32, Dims: []int{2, 3}, Values: []float64{1.5, -2, 3, 0.25, 8, -16}},
		{Intent: IntentTriangle, DataType: TypeInt32, Dims: []int{1, 3}, Values: []float64{0, 1, 1}},
		{Intent: IntentLabel, DataType: TypeUint8, Dims: []int{2}, Values: []float64{3, 200}},
	}}
	require.NoError(t, Write(path, in))

	out, err := Read(path)
	require.NoError(t, err)
	require.Len(t, out.DataArrays, 3)
	for i := range in.DataArrays {
		assert.Equal(t, in.DataArrays[i].Intent, out.DataArrays[i].Intent)
		assert.Equal(t, in.DataArrays[i].Dims, out.DataArrays[i].Dims)
		assert.Equal(t, in.DataArrays[i].Values, out.DataArrays[i].Values)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"not xml":        "\xff\xfe\xfd binary junk",
		"no arrays":      `<GIFTI Version="1.0"></GIFTI>`,
		"count mismatch": `<GIFTI><DataArray DataType="NIFTI_TYPE_INT32" Dimensionality="1" Dim0="4" Encoding="ASCII"><Data>1 2</Data></DataArray></GIFTI>`,
		"bad encoding":   `<GIFTI><DataArray DataType="NIFTI_TYPE_INT32" Dimensionality="1" Dim0="1" Encoding="Magic"><Data>1</Data></DataArray></GIFTI>`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
