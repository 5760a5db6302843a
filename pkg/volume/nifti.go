package volume

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	srcerr "bv2src/pkg/errors"
)

// NIfTI-1 datatype codes
const (
	niftiUint8   = 2
	niftiInt16   = 4
	niftiInt32   = 8
	niftiFloat32 = 16
	niftiInt8    = 256
	niftiUint16  = 512
)

const niftiHeaderSize = 348

// niftiWidth is the byte width of each readable datatype
var niftiWidth = map[int16]int{
	niftiUint8:   1,
	niftiInt8:    1,
	niftiInt16:   2,
	niftiUint16:  2,
	niftiInt32:   4,
	niftiFloat32: 4,
}

// niftiHeader mirrors the on-disk NIfTI-1 header layout
type niftiHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP       [3]float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	Quatern       [3]float32
	QOffset       [3]float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Image is a labeled 3-D volume
type Image struct {
	// Dims is the number of voxels along i, j, k
	Dims [3]int

	// Affine maps voxel indices to millimeters (4x4)
	Affine *mat.Dense

	// Data holds one label per voxel, i varying fastest
	Data []int
}

// At returns the label of voxel (i, j, k)
func (img *Image) At(i, j, k int) int {
	return img.Data[i+img.Dims[0]*(j+img.Dims[1]*k)]
}

// Position returns the millimeter position of voxel (i, j, k)
func (img *Image) Position(i, j, k int) r3.Vec {
	a := img.Affine
	x, y, z := float64(i), float64(j), float64(k)
	return r3.Vec{
		X: a.At(0, 0)*x + a.At(0, 1)*y + a.At(0, 2)*z + a.At(0, 3),
		Y: a.At(1, 0)*x + a.At(1, 1)*y + a.At(1, 2)*z + a.At(1, 3),
		Z: a.At(2, 0)*x + a.At(2, 1)*y + a.At(2, 2)*z + a.At(2, 3),
	}
}

// ReadNIfTI reads a single-file NIfTI-1 volume (.nii or .nii.gz). The voxel
// to millimeter affine comes from the sform when one is set, otherwise from
// the voxel sizes.
func ReadNIfTI(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	img, err := decodeNIfTI(raw)
	if err != nil {
		return nil, srcerr.NewMalformed(path, 0, "invalid NIfTI-1 volume", err)
	}
	return img, nil
}

func decodeNIfTI(raw []byte) (*Image, error) {
	if len(raw) < niftiHeaderSize {
		return nil, fmt.Errorf("file shorter than the %d byte header", niftiHeaderSize)
	}

	var order binary.ByteOrder = binary.LittleEndian
	switch {
	case binary.LittleEndian.Uint32(raw) == niftiHeaderSize:
	case binary.BigEndian.Uint32(raw) == niftiHeaderSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("header size field is not %d", niftiHeaderSize)
	}

	var h niftiHeader
	if err := binary.Read(bytes.NewReader(raw[:niftiHeaderSize]), order, &h); err != nil {
		return nil, err
	}
	if magic := string(h.Magic[:3]); magic != "n+1" {
		return nil, fmt.Errorf("unsupported magic %q (only single-file NIfTI-1 is read)", magic)
	}
	if h.Dim[0] < 3 {
		return nil, fmt.Errorf("expected a 3-D volume, got %d dimensions", h.Dim[0])
	}

	img := &Image{Dims: [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])}}
	if img.Dims[0] <= 0 || img.Dims[1] <= 0 || img.Dims[2] <= 0 {
		return nil, fmt.Errorf("invalid dimensions %v", img.Dims)
	}
	n := img.Dims[0] * img.Dims[1] * img.Dims[2]

	width, ok := niftiWidth[h.Datatype]
	if !ok {
		return nil, fmt.Errorf("unsupported datatype %d", h.Datatype)
	}
	if int(h.Bitpix) != 8*width {
		return nil, fmt.Errorf("bitpix %d does not match datatype %d (%d bits)", h.Bitpix, h.Datatype, 8*width)
	}
	offset := int(h.VoxOffset)
	if offset < niftiHeaderSize || offset+n*width > len(raw) {
		return nil, fmt.Errorf("voxel data (%d x %d bytes at %d) exceeds file size %d", n, width, offset, len(raw))
	}
	data := raw[offset:]

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	scaled := slope != 0 && (slope != 1 || inter != 0)

	img.Data = make([]int, n)
	for i := range img.Data {
		var v float64
		switch h.Datatype {
		case niftiUint8:
			v = float64(data[i])
		case niftiInt8:
			v = float64(int8(data[i]))
		case niftiInt16:
			v = float64(int16(order.Uint16(data[2*i:])))
		case niftiUint16:
			v = float64(order.Uint16(data[2*i:]))
		case niftiInt32:
			v = float64(int32(order.Uint32(data[4*i:])))
		case niftiFloat32:
			v = float64(math.Float32frombits(order.Uint32(data[4*i:])))
		}
		if scaled {
			v = v*slope + inter
		}
		img.Data[i] = int(math.Round(v))
	}

	img.Affine = mat.NewDense(4, 4, nil)
	img.Affine.Set(3, 3, 1)
	if h.SformCode > 0 {
		for c := 0; c < 4; c++ {
			img.Affine.Set(0, c, float64(h.SrowX[c]))
			img.Affine.Set(1, c, float64(h.SrowY[c]))
			img.Affine.Set(2, c, float64(h.SrowZ[c]))
		}
	} else {
		for d := 0; d < 3; d++ {
			size := float64(h.Pixdim[d+1])
			if size == 0 {
				size = 1
			}
			img.Affine.Set(d, d, size)
		}
	}
	return img, nil
}

// WriteNIfTI stores img as a single-file NIfTI-1 volume with int32 data and
// its affine as the sform. A .gz suffix compresses the file.
func WriteNIfTI(path string, img *Image) error {
	h := niftiHeader{
		SizeofHdr: niftiHeaderSize,
		Datatype:  niftiInt32,
		Bitpix:    32,
		VoxOffset: niftiHeaderSize + 4,
		SclSlope:  1,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	h.Dim = [8]int16{3, int16(img.Dims[0]), int16(img.Dims[1]), int16(img.Dims[2]), 1, 1, 1, 1}
	h.Pixdim[0] = 1
	for d := 0; d < 3; d++ {
		h.Pixdim[d+1] = float32(math.Abs(img.Affine.At(d, d)))
	}
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(img.Affine.At(0, c))
		h.SrowY[c] = float32(img.Affine.At(1, c))
		h.SrowZ[c] = float32(img.Affine.At(2, c))
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return err
	}
	buf.Write(make([]byte, 4)) // empty extension block
	for _, v := range img.Data {
		if err := binary.Write(&buf, binary.LittleEndian, int32(v)); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return os.WriteFile(path, buf.Bytes(), 0644)
	}

	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, zbuf.Bytes(), 0644)
}
