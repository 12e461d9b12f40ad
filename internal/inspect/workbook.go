package inspect

import (
	"fmt"

	"github.com/tealeg/xlsx/v2"

	"github.com/caribdata/opendata-cli/internal/model"
)

// workbook builds per-sheet findings for an xlsx file. Legacy .xls binaries
// land here too and fail the open, which is reported as unreadable rather
// than silently skipped.
func (ins *Inspector) workbook(path string) (model.FileReport, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return model.FileReport{}, &UnreadableFileError{Path: path, Err: err}
	}

	report := model.FileReport{Path: path, Type: model.FileTypeXLSX}
	for _, sheet := range f.Sheets {
		report.Sheets = append(report.Sheets, ins.analyzeSheet(sheet))
	}
	return report, nil
}

func (ins *Inspector) analyzeSheet(sheet *xlsx.Sheet) model.SheetReport {
	rows := make([][]string, len(sheet.Rows))
	cols := 0
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows[i] = cells
		if len(cells) > cols {
			cols = len(cells)
		}
	}

	sr := model.SheetReport{Name: sheet.Name, Rows: len(rows), Cols: cols}
	if header, confidence, ok := guessHeader(rows, ins.opts.MaxScanRows); ok {
		h := header
		sr.HeaderRow = &h
		sr.Confidence = confidence
	} else {
		sr.Notes = append(sr.Notes, "no header candidate found")
	}

	sr.MergedRanges = mergedRanges(sheet)
	if n := len(sr.MergedRanges); n > 0 {
		sr.Notes = append(sr.Notes, fmt.Sprintf("%d merged cell region(s)", n))
	}
	return sr
}

// mergedRanges reads merge spans off anchor cells. HMerge and VMerge count
// the extra cells absorbed to the right and below, so the anchor at (r, c)
// covers rows r..r+VMerge and columns c..c+HMerge inclusive.
func mergedRanges(sheet *xlsx.Sheet) []model.MergedRange {
	var ranges []model.MergedRange
	for r, row := range sheet.Rows {
		for c, cell := range row.Cells {
			if cell.HMerge == 0 && cell.VMerge == 0 {
				continue
			}
			mr := model.MergedRange{
				StartRow: r,
				StartCol: c,
				EndRow:   r + cell.VMerge,
				EndCol:   c + cell.HMerge,
			}
			mr.Ref = mr.A1Ref()
			ranges = append(ranges, mr)
		}
	}
	return ranges
}
