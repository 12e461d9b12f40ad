package inspect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/goleak"

	"github.com/caribdata/opendata-cli/internal/model"
)

func saveWorkbook(t *testing.T, f *xlsx.File, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, f.Save(path))
	return path
}

func addRow(sheet *xlsx.Sheet, cells ...string) *xlsx.Row {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
	return row
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFile_Workbook(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Trade")
	require.NoError(t, err)
	addRow(sheet, "partner", "year", "imports_usd")
	addRow(sheet, "USA", "2020", "251000000")
	addRow(sheet, "Mexico", "2020", "98000000")
	path := saveWorkbook(t, f, "trade.xlsx")

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, model.FileTypeXLSX, report.Type)
	assert.Equal(t, path, report.Path)
	require.Len(t, report.Sheets, 1)

	sr := report.Sheets[0]
	assert.Equal(t, "Trade", sr.Name)
	assert.Equal(t, 3, sr.Rows)
	assert.Equal(t, 3, sr.Cols)
	require.NotNil(t, sr.HeaderRow)
	assert.Equal(t, 0, *sr.HeaderRow)
	assert.Greater(t, sr.Confidence, 0.5)
	assert.Empty(t, sr.MergedRanges)
}

func TestFile_WorkbookTitleRowAboveHeader(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	addRow(sheet, "Annual Trade Summary")
	addRow(sheet, "partner", "year", "imports_usd")
	addRow(sheet, "USA", "2020", "251000000")
	addRow(sheet, "Mexico", "2020", "98000000")
	path := saveWorkbook(t, f, "titled.xlsx")

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, report.Sheets, 1)
	sr := report.Sheets[0]
	require.NotNil(t, sr.HeaderRow)
	assert.Equal(t, 1, *sr.HeaderRow, "header sits under the title row")
}

func TestFile_WorkbookMergedRegions(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Merged")
	require.NoError(t, err)
	r0 := addRow(sheet, "Region", "", "Total")
	addRow(sheet, "", "", "")
	addRow(sheet, "North", "12", "34")

	// Anchor A1 spans one extra column and one extra row: A1:B2.
	r0.Cells[0].Merge(1, 1)
	path := saveWorkbook(t, f, "merged.xlsx")

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, report.Sheets, 1)
	sr := report.Sheets[0]
	require.Len(t, sr.MergedRanges, 1)
	mr := sr.MergedRanges[0]
	assert.Equal(t, "A1:B2", mr.Ref)
	assert.Equal(t, 0, mr.StartRow)
	assert.Equal(t, 0, mr.StartCol)
	assert.Equal(t, 1, mr.EndRow)
	assert.Equal(t, 1, mr.EndCol)
	assert.Contains(t, sr.Notes, "1 merged cell region(s)")
}

func TestFile_WorkbookMultipleSheets(t *testing.T) {
	f := xlsx.NewFile()
	first, err := f.AddSheet("2019")
	require.NoError(t, err)
	addRow(first, "item", "value")
	addRow(first, "rice", "100")
	second, err := f.AddSheet("2020")
	require.NoError(t, err)
	addRow(second, "item", "value")
	path := saveWorkbook(t, f, "multi.xlsx")

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, report.Sheets, 2)
	assert.Equal(t, "2019", report.Sheets[0].Name)
	assert.Equal(t, "2020", report.Sheets[1].Name)
}

func TestFile_CorruptWorkbook(t *testing.T) {
	path := writeFile(t, "broken.xlsx", []byte("this is not a zip archive"))

	_, err := New(Options{}).File(context.Background(), path)
	require.Error(t, err)

	var unreadable *UnreadableFileError
	require.ErrorAs(t, err, &unreadable)
	assert.Equal(t, path, unreadable.Path)
}

func TestFile_CSV(t *testing.T) {
	path := writeFile(t, "pop.csv", []byte("district,year,population\nCorozal,2020,45946\nCayo,2020,95000\n"))

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, model.FileTypeCSV, report.Type)
	require.NotNil(t, report.CSV)
	c := report.CSV
	assert.Equal(t, ",", c.Delimiter)
	assert.Equal(t, "utf-8", c.Encoding)
	assert.Equal(t, 3, c.Rows)
	assert.Equal(t, 3, c.Cols)
	assert.Equal(t, 0, c.RaggedRows)
	require.NotNil(t, c.HeaderRow)
	assert.Equal(t, 0, *c.HeaderRow)
}

func TestFile_CSVSemicolonRagged(t *testing.T) {
	path := writeFile(t, "ragged.csv", []byte("a;b;c\n1;2;3\n4;5\n6;7;8\n"))

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	require.NotNil(t, report.CSV)
	assert.Equal(t, ";", report.CSV.Delimiter)
	assert.Equal(t, 3, report.CSV.Cols)
	assert.Equal(t, 1, report.CSV.RaggedRows)
}

func TestFile_CSVTabDelimitedTxt(t *testing.T) {
	path := writeFile(t, "table.txt", []byte("name\tyear\nBelize\t2020\n"))

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, model.FileTypeCSV, report.Type)
	require.NotNil(t, report.CSV)
	assert.Equal(t, "\t", report.CSV.Delimiter)
	assert.Equal(t, 2, report.CSV.Cols)
}

func TestFile_CSVWithBOM(t *testing.T) {
	path := writeFile(t, "bom.csv", []byte("\xEF\xBB\xBFname,value\nx,1\n"))

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	require.NotNil(t, report.CSV)
	assert.Equal(t, "utf-8-bom", report.CSV.Encoding)
	assert.Equal(t, 2, report.CSV.Rows)
}

func TestFile_CSVWindows1252Fallback(t *testing.T) {
	// 0xE9 is a bare e-acute, invalid as UTF-8.
	path := writeFile(t, "latin.csv", []byte("name,qty\ncaf\xe9,1\n"))

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	require.NotNil(t, report.CSV)
	assert.Equal(t, "windows-1252", report.CSV.Encoding)
	assert.Equal(t, 2, report.CSV.Rows)
	assert.Equal(t, 2, report.CSV.Cols)
}

func TestFile_Binary(t *testing.T) {
	path := writeFile(t, "scan.pdf", []byte("%PDF-1.4 whatever"))

	report, err := New(Options{}).File(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, model.FileTypeBinary, report.Type)
	assert.Nil(t, report.CSV)
	assert.Empty(t, report.Sheets)
	assert.Empty(t, report.Error)
}

func TestBatch_MixedFilesSortedWithIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Data")
	require.NoError(t, err)
	addRow(sheet, "a", "b")
	addRow(sheet, "1", "2")
	good := filepath.Join(dir, "b_good.xlsx")
	require.NoError(t, f.Save(good))

	csvPath := filepath.Join(dir, "a_table.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("x,y\n1,2\n"), 0o644))

	corrupt := filepath.Join(dir, "c_broken.xlsx")
	require.NoError(t, os.WriteFile(corrupt, []byte("junk"), 0o644))

	binary := filepath.Join(dir, "d_blob.bin")
	require.NoError(t, os.WriteFile(binary, []byte{0x00, 0x01}, 0o644))

	report, err := New(Options{Workers: 2}).Batch(context.Background(), []string{good, csvPath, corrupt, binary})
	require.NoError(t, err)

	require.Len(t, report.Files, 4)
	assert.Equal(t, csvPath, report.Files[0].Path)
	assert.Equal(t, good, report.Files[1].Path)
	assert.Equal(t, corrupt, report.Files[2].Path)
	assert.Equal(t, binary, report.Files[3].Path)

	assert.Empty(t, report.Files[0].Error)
	assert.Empty(t, report.Files[1].Error)
	assert.NotEmpty(t, report.Files[2].Error, "corrupt workbook becomes an error entry")
	assert.Equal(t, model.FileTypeXLSX, report.Files[2].Type)
	assert.Empty(t, report.Files[2].Sheets)
	assert.Equal(t, model.FileTypeBinary, report.Files[3].Type)
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestBatch_Empty(t *testing.T) {
	report, err := New(Options{}).Batch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Files)
}

func TestBatch_ContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := writeFile(t, "x.csv", []byte("a,b\n1,2\n"))
	_, err := New(Options{}).Batch(ctx, []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inspect: batch")
}
