package parcel

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"bv2src/internal/models"
	srcerr "bv2src/pkg/errors"
)

// Info describes one parcel of the atlas
type Info struct {
	// Name is the short display name used for labels
	Name string

	// Lobe is the lobe or region the parcel belongs to
	Lobe string

	// FullName is the long anatomical name (xlsx tables only)
	FullName string

	// Brodmann lists the Brodmann areas covered (xlsx tables only)
	Brodmann string
}

// Lookup maps parcel ids to their description for one hemisphere
type Lookup map[int]Info

// Name returns the display name of a parcel id, or UnnamedParcel
func (l Lookup) Name(id int) string {
	if info, ok := l[id]; ok {
		return info.Name
	}
	return UnnamedParcel
}

// Column headers of the legacy (xls and text) table layout
const (
	colLabel      = "Label"
	colHemisphere = "Hemisphere"
	colLobe       = "Lobe"
	colName       = "Name"
)

// Column headers of the xlsx table layout; the index column is per hemisphere
const (
	colIndexPrefix = "Index "
	colRegion      = "Lobe / Région"
	colFullName    = "Full name"
	colBrodmann    = "Brodman Area"
)

// ReadLookup reads the parcel table at path for the given hemisphere.
// The reader is chosen by extension: .xls (BIFF), .xlsx, or whitespace
// delimited text for anything else.
func ReadLookup(path string, hemi models.Hemisphere) (Lookup, error) {
	read, parse := readText, parseHemisphereTable
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xls":
		read = readXLS
	case ".xlsx":
		read, parse = readXLSX, parseIndexedTable
	}

	rows, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parcel lookup %s: %w", path, err)
	}
	return parse(path, rows, hemi)
}

// parseHemisphereTable handles the Label/Hemisphere/Lobe/Name layout. Rows
// tagged with the other hemisphere's letter are dropped.
func parseHemisphereTable(path string, rows [][]string, hemi models.Hemisphere) (Lookup, error) {
	if len(rows) == 0 {
		return nil, &srcerr.UnrecognizedParcelLookupHeaderError{
			Path:    path,
			Missing: []string{colLabel, colHemisphere, colLobe, colName},
		}
	}
	cols, err := findColumns(path, rows[0], colLabel, colHemisphere, colLobe, colName)
	if err != nil {
		return nil, err
	}
	label, side, lobe, name := cols[0], cols[1], cols[2], cols[3]
	exclude := hemi.Opposite().Letter()

	lookup := make(Lookup)
	for i, row := range rows[1:] {
		if blank(row) || cell(row, side) == exclude {
			continue
		}
		id, err := parseID(path, i+2, cell(row, label))
		if err != nil {
			return nil, err
		}
		lookup[id] = Info{Name: cell(row, name), Lobe: cell(row, lobe)}
	}
	return lookup, nil
}

// parseIndexedTable handles the xlsx layout where each hemisphere has its
// own "Index Left" / "Index Right" column.
func parseIndexedTable(path string, rows [][]string, hemi models.Hemisphere) (Lookup, error) {
	index := colIndexPrefix + "Left"
	if hemi == models.Right {
		index = colIndexPrefix + "Right"
	}
	if len(rows) == 0 {
		return nil, &srcerr.UnrecognizedParcelLookupHeaderError{
			Path:    path,
			Missing: []string{index, colLabel, colRegion, colFullName, colBrodmann},
		}
	}
	cols, err := findColumns(path, rows[0], index, colLabel, colRegion, colFullName, colBrodmann)
	if err != nil {
		return nil, err
	}

	lookup := make(Lookup)
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		id, err := parseID(path, i+2, cell(row, cols[0]))
		if err != nil {
			return nil, err
		}
		lookup[id] = Info{
			Name:     cell(row, cols[1]),
			Lobe:     cell(row, cols[2]),
			FullName: cell(row, cols[3]),
			Brodmann: cell(row, cols[4]),
		}
	}
	return lookup, nil
}

// findColumns returns the position of each wanted header, or an error
// listing all the headers that are absent.
func findColumns(path string, header []string, wanted ...string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if _, seen := pos[h]; !seen {
			pos[h] = i
		}
	}

	cols := make([]int, len(wanted))
	var missing []string
	for i, w := range wanted {
		p, ok := pos[w]
		if !ok {
			missing = append(missing, w)
			continue
		}
		cols[i] = p
	}
	if len(missing) > 0 {
		return nil, &srcerr.UnrecognizedParcelLookupHeaderError{Path: path, Missing: missing}
	}
	return cols, nil
}

// parseID accepts integral numbers, including spreadsheet renderings like "12.0"
func parseID(path string, line int, s string) (int, error) {
	if id, err := strconv.Atoi(s); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, srcerr.NewMalformed(path, line, fmt.Sprintf("parcel index %q is not an integer", s), err)
	}
	return int(f), nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readText(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows [][]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 && len(rows) == 0 {
			continue
		}
		rows = append(rows, fields)
	}
	return rows, scanner.Err()
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetRows(f.GetSheetName(0))
}

func readXLS(path string) ([][]string, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, err
	}
	if wb == nil {
		return nil, fmt.Errorf("no workbook stream")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheetRow(sheet, i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for j := range cells {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// sheetRow returns row i, or nil for a row the sheet holds no record of;
// WorkSheet.Row panics on those.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}
