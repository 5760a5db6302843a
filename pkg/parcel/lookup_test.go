package parcel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bv2src/internal/models"
	srcerr "bv2src/pkg/errors"
)

const textAtlas = `Label Hemisphere Lobe Name
1 L Frontal VCcm
1 R Frontal VCcm_r
2 L Occipital VCs
3 B Subcortical Thal
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeXLSX(t *testing.T, rows ...[]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	path := filepath.Join(t.TempDir(), "MarsAtlas.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestReadLookupText(t *testing.T) {
	path := writeFile(t, "atlas.txt", textAtlas)

	t.Run("left drops right rows", func(t *testing.T) {
		lookup, err := ReadLookup(path, models.Left)
		require.NoError(t, err)
		assert.Equal(t, Lookup{
			1: {Name: "VCcm", Lobe: "Frontal"},
			2: {Name: "VCs", Lobe: "Occipital"},
			3: {Name: "Thal", Lobe: "Subcortical"},
		}, lookup)
	})

	t.Run("right drops left rows", func(t *testing.T) {
		lookup, err := ReadLookup(path, models.Right)
		require.NoError(t, err)
		assert.Len(t, lookup, 2)
		assert.Equal(t, "VCcm_r", lookup.Name(1))
		assert.Equal(t, UnnamedParcel, lookup.Name(2))
	})
}

func TestReadLookupXLSX(t *testing.T) {
	path := writeXLSX(t,
		[]any{"Index Left", "Index Right", "Label", "Lobe / Région", "Full name", "Brodman Area"},
		[]any{1, 101, "VCcm", "Frontal", "Caudal medial visual cortex", "17"},
		[]any{2, 102, "VCs", "Occipital", "Superior visual cortex", "18, 19"},
	)

	left, err := ReadLookup(path, models.Left)
	require.NoError(t, err)
	assert.Equal(t, Info{Name: "VCcm", Lobe: "Frontal", FullName: "Caudal medial visual cortex", Brodmann: "17"}, left[1])
	assert.Len(t, left, 2)

	right, err := ReadLookup(path, models.Right)
	require.NoError(t, err)
	assert.Equal(t, "VCs", right.Name(102))
	assert.Equal(t, UnnamedParcel, right.Name(2))
}

func TestReadLookupXLS(t *testing.T) {
	// testdata/atlas.xls holds the text atlas rows with row 3 left out
	path := filepath.Join("testdata", "atlas.xls")

	t.Run("left drops right rows", func(t *testing.T) {
		lookup, err := ReadLookup(path, models.Left)
		require.NoError(t, err)
		assert.Equal(t, Lookup{
			1: {Name: "VCcm", Lobe: "Frontal"},
			2: {Name: "VCs", Lobe: "Occipital"},
			3: {Name: "Thal", Lobe: "Subcortical"},
		}, lookup)
	})

	t.Run("right drops left rows", func(t *testing.T) {
		lookup, err := ReadLookup(path, models.Right)
		require.NoError(t, err)
		assert.Len(t, lookup, 2)
		assert.Equal(t, "VCcm_r", lookup.Name(1))
	})

	t.Run("not a workbook", func(t *testing.T) {
		_, err := ReadLookup(writeFile(t, "atlas.xls", textAtlas), models.Left)
		assert.ErrorContains(t, err, "failed to read parcel lookup")
	})
}

func TestReadLookupErrors(t *testing.T) {
	t.Run("text header", func(t *testing.T) {
		path := writeFile(t, "atlas.txt", "Label Side Lobe Name\n1 L Frontal VCcm\n")
		_, err := ReadLookup(path, models.Left)
		var headerErr *srcerr.UnrecognizedParcelLookupHeaderError
		require.ErrorAs(t, err, &headerErr)
		assert.Equal(t, []string{"Hemisphere"}, headerErr.Missing)
		assert.Equal(t, path, headerErr.Path)
	})

	t.Run("xlsx header names the hemisphere index", func(t *testing.T) {
		path := writeXLSX(t,
			[]any{"Index Left", "Label", "Lobe / Région", "Full name", "Brodman Area"},
			[]any{1, "VCcm", "Frontal", "Caudal medial visual cortex", "17"},
		)
		_, err := ReadLookup(path, models.Right)
		var headerErr *srcerr.UnrecognizedParcelLookupHeaderError
		require.ErrorAs(t, err, &headerErr)
		assert.Equal(t, []string{"Index Right"}, headerErr.Missing)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := ReadLookup(writeFile(t, "atlas.txt", "\n\n"), models.Left)
		assert.ErrorIs(t, err, srcerr.ErrUnrecognizedParcelLookupHeader)
	})

	t.Run("non integer index", func(t *testing.T) {
		path := writeFile(t, "atlas.txt", "Label Hemisphere Lobe Name\n1.5 L Frontal VCcm\n")
		_, err := ReadLookup(path, models.Left)
		var malformed *srcerr.MalformedNumericContentError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, 2, malformed.Line)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadLookup(filepath.Join(t.TempDir(), "atlas.xlsx"), models.Left)
		assert.Error(t, err)
	})
}

func TestParseID(t *testing.T) {
	tests := map[string]int{"12": 12, "12.0": 12, "-3": -3}
	for in, want := range tests {
		got, err := parseID("x", 1, in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := parseID("x", 1, "abc")
	assert.True(t, srcerr.IsMalformedNumericContent(err))
}
