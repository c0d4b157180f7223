package workbook

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestWorkbook(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	err := f.Save(path)
	require.NoError(t, err)
	return path
}

func TestReadRowsBasic(t *testing.T) {
	path := createTestWorkbook(t, map[string][][]string{
		"Sheet1": {
			{"field", "value"},
			{"billingAmount", "1000000"},
			{"billingUnitCost", "80"},
		},
	})

	rows, err := ReadRows(path, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"field", "value"}, rows[0])
	assert.Equal(t, []string{"billingAmount", "1000000"}, rows[1])
}

func TestReadRowsSkipRows(t *testing.T) {
	path := createTestWorkbook(t, map[string][][]string{
		"Sheet1": {
			{"field", "value"},
			{"billingAmount", "1000000"},
		},
	})

	rows, err := ReadRows(path, Options{SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"billingAmount", "1000000"}, rows[0])
}

func TestReadRowsSheetName(t *testing.T) {
	path := createTestWorkbook(t, map[string][][]string{
		"First":  {{"a", "1"}},
		"Second": {{"x", "2"}},
	})

	rows, err := ReadRows(path, Options{SheetName: "Second"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"x", "2"}, rows[0])
}

func TestReadRowsSheetNameNotFound(t *testing.T) {
	path := createTestWorkbook(t, map[string][][]string{
		"Sheet1": {{"a", "1"}},
	})

	_, err := ReadRows(path, Options{SheetName: "Missing"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadRowsSheetIndexOutOfRange(t *testing.T) {
	path := createTestWorkbook(t, map[string][][]string{
		"Sheet1": {{"a", "1"}},
	})

	_, err := ReadRows(path, Options{SheetIndex: 3})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadScenario(t *testing.T) {
	path := createTestWorkbook(t, map[string][][]string{
		"Sheet1": {
			{"field", "value", "flag"},
			{"classification", "development"},
			{"billingAmount", "1000000"},
			{"outsourcingCost", "200000"},
			{"estimatedWorkdays", "15", "override"},
			{"", ""},
		},
	})

	s, err := ReadScenario(path, Options{SkipRows: 1})
	require.NoError(t, err)

	assert.Equal(t, "development", s.Classification)
	assert.Equal(t, 1000000.0, s.Fields["billingAmount"])
	assert.Equal(t, 200000.0, s.Fields["outsourcingCost"])
	assert.Equal(t, 15.0, s.Overrides["estimatedWorkdays"])
	assert.NotContains(t, s.Fields, "estimatedWorkdays")
}

func TestReadScenarioBadValue(t *testing.T) {
	path := createTestWorkbook(t, map[string][][]string{
		"Sheet1": {
			{"billingAmount", "abc"},
		},
	})

	_, err := ReadScenario(path, Options{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bad value")
}
