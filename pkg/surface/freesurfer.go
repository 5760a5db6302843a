package surface

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
)

// triangleMagic opens a FreeSurfer triangle surface file
var triangleMagic = []byte{0xff, 0xff, 0xfe}

// ReadFreeSurfer reads a FreeSurfer binary triangle surface (lh.white and
// friends). Coordinates are returned in the file's units (millimeters).
func ReadFreeSurfer(path string) ([]r3.Vec, [][3]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return decodeFreeSurfer(bufio.NewReader(f))
}

func decodeFreeSurfer(r *bufio.Reader) ([]r3.Vec, [][3]int, error) {
	magic := make([]byte, 3)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, fmt.Errorf("reading magic: %w", err)
	}
	if !bytes.Equal(magic, triangleMagic) {
		return nil, nil, fmt.Errorf("not a FreeSurfer triangle surface (magic %x)", magic)
	}

	// The creator comment is terminated by two newlines.
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, nil, fmt.Errorf("reading header comment: %w", err)
		}
		if b == '\n' && prev == '\n' {
			break
		}
		prev = b
	}

	var counts [2]int32
	if err := binary.Read(r, binary.BigEndian, &counts); err != nil {
		return nil, nil, fmt.Errorf("reading counts: %w", err)
	}
	nVert, nFace := int(counts[0]), int(counts[1])
	if nVert < 0 || nFace < 0 {
		return nil, nil, fmt.Errorf("invalid counts %d vertices, %d faces", nVert, nFace)
	}

	raw := make([]float32, 3*nVert)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, nil, fmt.Errorf("reading vertices: %w", err)
	}
	coords := make([]r3.Vec, nVert)
	for i := range coords {
		coords[i] = r3.Vec{X: float64(raw[3*i]), Y: float64(raw[3*i+1]), Z: float64(raw[3*i+2])}
	}

	faces := make([]int32, 3*nFace)
	if err := binary.Read(r, binary.BigEndian, faces); err != nil {
		return nil, nil, fmt.Errorf("reading faces: %w", err)
	}
	tris := make([][3]int, nFace)
	for i := range tris {
		tris[i] = [3]int{int(faces[3*i]), int(faces[3*i+1]), int(faces[3*i+2])}
	}
	return coords, tris, nil
}

// WriteFreeSurfer writes coordinates and triangles as a FreeSurfer triangle surface
func WriteFreeSurfer(path string, coords []r3.Vec, tris [][3]int) error {
	var buf bytes.Buffer
	buf.Write(triangleMagic)
	buf.WriteString("created by bv2src\n\n")

	counts := [2]int32{int32(len(coords)), int32(len(tris))}
	if err := binary.Write(&buf, binary.BigEndian, counts); err != nil {
		return err
	}
	for _, c := range coords {
		for _, v := range []float64{c.X, c.Y, c.Z} {
			if math.Abs(v) > math.MaxFloat32 {
				return fmt.Errorf("coordinate %g overflows float32", v)
			}
			if err := binary.Write(&buf, binary.BigEndian, float32(v)); err != nil {
				return err
			}
		}
	}
	for _, t := range tris {
		face := [3]int32{int32(t[0]), int32(t[1]), int32(t[2])}
		if err := binary.Write(&buf, binary.BigEndian, face); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
