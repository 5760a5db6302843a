// Package gifti reads and writes GIFTI files, the XML container BrainVISA uses
// for white-matter meshes and per-vertex textures.
package gifti

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Intents of the arrays this package cares about
const (
	IntentPointSet = "NIFTI_INTENT_POINTSET"
	IntentTriangle = "NIFTI_INTENT_TRIANGLE"
	IntentLabel    = "NIFTI_INTENT_LABEL"
	IntentShape    = "NIFTI_INTENT_SHAPE"
	IntentNone     = "NIFTI_INTENT_NONE"
)

// Data types
const (
	TypeUint8   = "NIFTI_TYPE_UINT8"
	TypeInt32   = "NIFTI_TYPE_INT32"
	TypeFloat32 = "NIFTI_TYPE_FLOAT32"
	TypeFloat64 = "NIFTI_TYPE_FLOAT64"
)

// Encodings
const (
	EncodingASCII      = "ASCII"
	EncodingBase64     = "Base64Binary"
	EncodingGZipBase64 = "GZipBase64Binary"
)

// Image is a decoded GIFTI file
type Image struct {
	DataArrays []*DataArray
}

// DataArray is one decoded array. Values are stored flat in row-major order.
type DataArray struct {
	Intent   string
	DataType string
	Dims     []int
	Values   []float64
}

// Len returns the number of rows (the first dimension)
func (d *DataArray) Len() int {
	if len(d.Dims) == 0 {
		return 0
	}
	return d.Dims[0]
}

// Ints returns the values truncated to integers
func (d *DataArray) Ints() []int {
	out := make([]int, len(d.Values))
	for i, v := range d.Values {
		out[i] = int(v)
	}
	return out
}

// Find returns the first array with the given intent, or nil
func (img *Image) Find(intent string) *DataArray {
	for _, da := range img.DataArrays {
		if da.Intent == intent {
			return da
		}
	}
	return nil
}

type xmlGIFTI struct {
	XMLName    xml.Name       `xml:"GIFTI"`
	Version    string         `xml:"Version,attr"`
	NumArrays  int            `xml:"NumberOfDataArrays,attr"`
	DataArrays []xmlDataArray `xml:"DataArray"`
}

type xmlDataArray struct {
	Intent         string `xml:"Intent,attr"`
	DataType       string `xml:"DataType,attr"`
	IndexingOrder  string `xml:"ArrayIndexingOrder,attr"`
	Dimensionality int    `xml:"Dimensionality,attr"`
	Dim0           int    `xml:"Dim0,attr"`
	Dim1           int    `xml:"Dim1,attr"`
	Dim2           int    `xml:"Dim2,attr"`
	Encoding       string `xml:"Encoding,attr"`
	Endian         string `xml:"Endian,attr"`
	ExternalFile   string `xml:"ExternalFileName,attr"`
	Data           string `xml:"Data"`
}

// Read decodes the GIFTI file at path
func Read(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode parses a GIFTI document
func Decode(r io.Reader) (*Image, error) {
	var doc xmlGIFTI
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("not a GIFTI document: %w", err)
	}
	if len(doc.DataArrays) == 0 {
		return nil, fmt.Errorf("GIFTI document has no data arrays")
	}

	img := &Image{DataArrays: make([]*DataArray, 0, len(doc.DataArrays))}
	for i, x := range doc.DataArrays {
		da, err := decodeArray(x)
		if err != nil {
			return nil, fmt.Errorf("data array %d: %w", i, err)
		}
		img.DataArrays = append(img.DataArrays, da)
	}
	return img, nil
}

func decodeArray(x xmlDataArray) (*DataArray, error) {
	if x.ExternalFile != "" {
		return nil, fmt.Errorf("external data files are not supported")
	}

	dims := []int{x.Dim0}
	if x.Dimensionality >= 2 {
		dims = append(dims, x.Dim1)
	}
	if x.Dimensionality >= 3 {
		dims = append(dims, x.Dim2)
	}
	n := 1
	for _, d := range dims {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d", d)
		}
		n *= d
	}

	var values []float64
	var err error
	switch x.Encoding {
	case EncodingASCII:
		values, err = decodeASCII(x.Data)
	case EncodingBase64, EncodingGZipBase64:
		values, err = decodeBinary(x)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", x.Encoding)
	}
	if err != nil {
		return nil, err
	}
	if len(values) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(values))
	}

	if x.IndexingOrder == "ColumnMajorOrder" && len(dims) == 2 {
		values = toRowMajor(values, dims[0], dims[1])
	}

	return &DataArray{Intent: x.Intent, DataType: x.DataType, Dims: dims, Values: values}, nil
}

func decodeASCII(data string) ([]float64, error) {
	fields := strings.Fields(data)
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ASCII value %q", f)
		}
		values[i] = v
	}
	return values, nil
}

func decodeBinary(x xmlDataArray) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(x.Data), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 data: %w", err)
	}
	if x.Encoding == EncodingGZipBase64 {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid compressed data: %w", err)
		}
		raw, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("invalid compressed data: %w", err)
		}
	}

	var order binary.ByteOrder = binary.LittleEndian
	if x.Endian == "BigEndian" {
		order = binary.BigEndian
	}

	switch x.DataType {
	case TypeUint8:
		out := make([]float64, len(raw))
		for i, b := range raw {
			out[i] = float64(b)
		}
		return out, nil
	case TypeInt32:
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("int32 data length %d is not a multiple of 4", len(raw))
		}
		out := make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(int32(order.Uint32(raw[4*i:])))
		}
		return out, nil
	case TypeFloat32:
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("float32 data length %d is not a multiple of 4", len(raw))
		}
		out := make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(raw[4*i:])))
		}
		return out, nil
	case TypeFloat64:
		if len(raw)%8 != 0 {
			return nil, fmt.Errorf("float64 data length %d is not a multiple of 8", len(raw))
		}
		out := make([]float64, len(raw)/8)
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(raw[8*i:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported data type %q", x.DataType)
}

func toRowMajor(values []float64, rows, cols int) []float64 {
	out := make([]float64, len(values))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[r*cols+c] = values[c*rows+r]
		}
	}
	return out
}

// Write encodes img at path. Float arrays are written as little-endian
// GZipBase64Binary float32, integer arrays as int32.
func Write(path string, img *Image) error {
	doc := xmlGIFTI{Version: "1.0", NumArrays: len(img.DataArrays)}
	for _, da := range img.DataArrays {
		x, err := encodeArray(da)
		if err != nil {
			return err
		}
		doc.DataArrays = append(doc.DataArrays, x)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode GIFTI: %w", err)
	}
	data := append([]byte(xml.Header), out...)
	return os.WriteFile(path, data, 0644)
}

func encodeArray(da *DataArray) (xmlDataArray, error) {
	x := xmlDataArray{
		Intent:         da.Intent,
		DataType:       da.DataType,
		IndexingOrder:  "RowMajorOrder",
		Dimensionality: len(da.Dims),
		Encoding:       EncodingGZipBase64,
		Endian:         "LittleEndian",
	}
	if len(da.Dims) > 0 {
		x.Dim0 = da.Dims[0]
	}
	if len(da.Dims) > 1 {
		x.Dim1 = da.Dims[1]
	}
	if len(da.Dims) > 2 {
		x.Dim2 = da.Dims[2]
	}

	var raw bytes.Buffer
	for _, v := range da.Values {
		var err error
		switch da.DataType {
		case TypeInt32:
			err = binary.Write(&raw, binary.LittleEndian, int32(v))
		case TypeUint8:
			err = raw.WriteByte(uint8(v))
		case TypeFloat32:
			err = binary.Write(&raw, binary.LittleEndian, float32(v))
		case TypeFloat64:
			err = binary.Write(&raw, binary.LittleEndian, v)
		default:
			return x, fmt.Errorf("unsupported data type %q", da.DataType)
		}
		if err != nil {
			return x, err
		}
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return x, err
	}
	if err := zw.Close(); err != nil {
		return x, err
	}
	x.Data = base64.StdEncoding.EncodeToString(compressed.Bytes())
	return x, nil
}
