package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"bv2src/internal/models"
	srcerr "bv2src/pkg/errors"
)

// LabelFileName returns the FreeSurfer file name of a label: <name>-<hemi>.label
func LabelFileName(name string, hemi models.Hemisphere) string {
	return fmt.Sprintf("%s-%s.label", name, hemi)
}

// WriteLabel writes a label in FreeSurfer .label text format. Positions are
// written in millimeters.
func WriteLabel(path string, l models.Label) error {
	if len(l.Pos) != len(l.Vertices) || len(l.Values) != len(l.Vertices) {
		return fmt.Errorf("label %s: %d vertices, %d positions, %d values",
			l.Name, len(l.Vertices), len(l.Pos), len(l.Values))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#%s , subject %s, hemi %s\n", l.Comment, l.Subject, l.Hemi)
	fmt.Fprintf(&b, "%d\n", len(l.Vertices))
	for i, v := range l.Vertices {
		p := r3.Scale(1e3, l.Pos[i])
		fmt.Fprintf(&b, "%d  %.3f  %.3f  %.3f %.10f\n", v, p.X, p.Y, p.Z, l.Values[i])
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// ReadLabel reads a FreeSurfer .label file. The hemisphere and name come
// from a "-lh.label" or "-rh.label" file name suffix; positions are
// returned in meters.
func ReadLabel(path string) (models.Label, error) {
	base := filepath.Base(path)
	var l models.Label
	switch {
	case strings.HasSuffix(base, "-lh.label"):
		l.Hemi, l.Name = models.Left, strings.TrimSuffix(base, "-lh.label")
	case strings.HasSuffix(base, "-rh.label"):
		l.Hemi, l.Name = models.Right, strings.TrimSuffix(base, "-rh.label")
	default:
		return l, fmt.Errorf("label file %s must end with -lh.label or -rh.label", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return l, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	next := func() (string, bool) {
		ok := scanner.Scan()
		line++
		return scanner.Text(), ok
	}

	header, ok := next()
	if !ok || !strings.HasPrefix(header, "#") {
		return l, srcerr.NewMalformed(path, line, "missing comment line", scanner.Err())
	}
	l.Comment = strings.TrimPrefix(header, "#")
	if i := strings.Index(l.Comment, " , subject "); i >= 0 {
		rest := l.Comment[i+len(" , subject "):]
		l.Comment = l.Comment[:i]
		l.Subject, _, _ = strings.Cut(rest, ",")
	}

	countLine, _ := next()
	n, err := strconv.Atoi(strings.TrimSpace(countLine))
	if err != nil || n < 0 {
		return l, srcerr.NewMalformed(path, line, fmt.Sprintf("invalid vertex count %q", countLine), err)
	}

	l.Vertices = make([]int, 0, n)
	l.Pos = make([]r3.Vec, 0, n)
	l.Values = make([]float64, 0, n)
	for i := 0; i < n; i++ {
		text, ok := next()
		if !ok {
			return l, srcerr.NewMalformed(path, line, fmt.Sprintf("expected %d vertices, got %d", n, i), scanner.Err())
		}
		fields := strings.Fields(text)
		if len(fields) != 5 {
			return l, srcerr.NewMalformed(path, line, fmt.Sprintf("expected 5 columns, got %d", len(fields)), nil)
		}
		v, err := strconv.Atoi(fields[0])
		if err != nil {
			return l, srcerr.NewMalformed(path, line, "invalid vertex index", err)
		}
		var nums [4]float64
		for j := range nums {
			if nums[j], err = strconv.ParseFloat(fields[j+1], 64); err != nil {
				return l, srcerr.NewMalformed(path, line, "invalid number", err)
			}
		}
		l.Vertices = append(l.Vertices, v)
		l.Pos = append(l.Pos, r3.Scale(1e-3, r3.Vec{X: nums[0], Y: nums[1], Z: nums[2]}))
		l.Values = append(l.Values, nums[3])
	}
	return l, nil
}
