package transform

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	srcerr "bv2src/pkg/errors"
)

// Record is the native on-disk representation of a composed transform.
// It is selected by a .yaml or .yml output extension.
type Record struct {
	From  string      `yaml:"from"`
	To    string      `yaml:"to"`
	Trans [][]float64 `yaml:"trans"`
}

// Identity returns a new 4x4 identity matrix
func Identity() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// LoadMatrixFile reads a pairwise registration file.
// The first row holds the translation; the next three rows hold the rotation
// block. The block is stored transposed and transposed back on load, so the
// file rows end up as the matrix rows with the translation appended as the
// fourth column. The result is padded with the homogeneous row [0 0 0 1].
func LoadMatrixFile(path string) (*mat.Dense, error) {
	rows, lines, err := readNumberRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) != 4 {
		return nil, srcerr.NewMalformed(path, 0,
			fmt.Sprintf("expected 1 translation row and 3 rotation rows, got %d rows", len(rows)), nil)
	}
	for i, row := range rows {
		if len(row) != 3 {
			return nil, srcerr.NewMalformed(path, lines[i],
				fmt.Sprintf("expected 3 numbers, got %d", len(row)), nil)
		}
	}

	translation := rows[0]
	m := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rows[i+1][j])
		}
		m.Set(i, 3, translation[i])
	}
	return m, nil
}

// Load reads a composed affine written by Write: a native record when the
// extension says so, otherwise a whitespace-separated grid of 3 or 4 rows of
// 4 numbers (3-row grids are padded with [0 0 0 1]).
func Load(path string) (*mat.Dense, error) {
	if isRecordPath(path) {
		return loadRecord(path)
	}

	rows, lines, err := readNumberRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) != 3 && len(rows) != 4 {
		return nil, srcerr.NewMalformed(path, 0, fmt.Sprintf("expected a 3x4 or 4x4 grid, got %d rows", len(rows)), nil)
	}

	m := Identity()
	for i, row := range rows {
		if len(row) != 4 {
			return nil, srcerr.NewMalformed(path, lines[i], fmt.Sprintf("expected 4 numbers, got %d", len(row)), nil)
		}
		m.SetRow(i, row)
	}
	return m, nil
}

// Write stores a 4x4 affine at path, as a native record for .yaml/.yml paths
// and as a flat text grid (one matrix row per line) otherwise.
func Write(path string, m mat.Matrix) error {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return fmt.Errorf("transform must be 4x4, got %dx%d", r, c)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create transform directory: %w", err)
		}
	}

	if isRecordPath(path) {
		rec := Record{From: "brainvisa", To: "mri", Trans: make([][]float64, 4)}
		for i := 0; i < 4; i++ {
			rec.Trans[i] = mat.Row(nil, i, m)
		}
		data, err := yaml.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal transform record: %w", err)
		}
		return os.WriteFile(path, data, 0644)
	}

	var sb strings.Builder
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatFloat(m.At(i, j), 'g', -1, 64))
		}
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write transform: %w", err)
	}
	return nil
}

func loadRecord(path string) (*mat.Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transform record: %w", err)
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, srcerr.NewMalformed(path, 0, "invalid transform record", err)
	}
	if len(rec.Trans) != 3 && len(rec.Trans) != 4 {
		return nil, srcerr.NewMalformed(path, 0, fmt.Sprintf("expected 3 or 4 rows, got %d", len(rec.Trans)), nil)
	}
	m := Identity()
	for i, row := range rec.Trans {
		if len(row) != 4 {
			return nil, srcerr.NewMalformed(path, 0, fmt.Sprintf("row %d: expected 4 numbers, got %d", i, len(row)), nil)
		}
		m.SetRow(i, row)
	}
	return m, nil
}

func isRecordPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// readNumberRows parses every non-blank line of a file into floats and
// returns the rows together with their 1-based line numbers.
func readNumberRows(path string) ([][]float64, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open matrix file: %w", err)
	}
	defer f.Close()

	var rows [][]float64
	var lines []int
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, srcerr.NewMalformed(path, lineNo, fmt.Sprintf("%q is not a finite number", field), err)
			}
			row[i] = v
		}
		rows = append(rows, row)
		lines = append(lines, lineNo)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read matrix file: %w", err)
	}
	return rows, lines, nil
}
