package inspect

import (
	"strconv"
	"strings"
)

// headerWeightFill and headerWeightTypes split the candidate score between
// how full the row is and how uniformly typed the row below it is.
const (
	headerWeightFill  = 0.5
	headerWeightTypes = 0.5
)

// guessHeader scores the first maxScan rows as header candidates and returns
// the winning 0-based index with its score. A candidate earns points for its
// non-empty-cell ratio against the scanned table width and for the type
// homogeneity of the row below it. Exact ties go to a candidate sitting under
// a blank or single-cell title row, then to the earliest. ok is false when no
// row has any content.
func guessHeader(rows [][]string, maxScan int) (header int, confidence float64, ok bool) {
	scan := len(rows)
	if maxScan > 0 && scan > maxScan {
		scan = maxScan
	}

	width := 0
	for i := 0; i < scan; i++ {
		if len(rows[i]) > width {
			width = len(rows[i])
		}
	}
	if width == 0 {
		return 0, 0, false
	}

	type candidate struct {
		row   int
		score float64
	}
	var candidates []candidate
	best := 0.0
	for i := 0; i < scan; i++ {
		fill := float64(nonEmptyCells(rows[i])) / float64(width)
		if fill == 0 {
			continue
		}
		var homogeneity float64
		if i+1 < len(rows) {
			homogeneity = typeHomogeneity(rows[i+1])
		}
		score := headerWeightFill*fill + headerWeightTypes*homogeneity
		candidates = append(candidates, candidate{row: i, score: score})
		if score > best {
			best = score
		}
	}
	if len(candidates) == 0 {
		return 0, 0, false
	}

	var tied []candidate
	for _, c := range candidates {
		if c.score == best {
			tied = append(tied, c)
		}
	}
	pick := tied[0]
	if len(tied) > 1 {
		for _, c := range tied {
			if c.row > 0 && isTitleOrBlankRow(rows[c.row-1]) {
				pick = c
				break
			}
		}
	}
	return pick.row, pick.score, true
}

func nonEmptyCells(row []string) int {
	n := 0
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			n++
		}
	}
	return n
}

// isTitleOrBlankRow reports whether a row looks like decoration above a
// header: empty, or a lone title cell.
func isTitleOrBlankRow(row []string) bool {
	return nonEmptyCells(row) <= 1
}

// typeHomogeneity is the share of non-empty cells in the row belonging to its
// dominant type (numeric or text). Data rows under a real header tend toward
// one type; decoration rows mix.
func typeHomogeneity(row []string) float64 {
	numeric, text := 0, 0
	for _, cell := range row {
		s := strings.TrimSpace(cell)
		if s == "" {
			continue
		}
		if isNumericCell(s) {
			numeric++
		} else {
			text++
		}
	}
	total := numeric + text
	if total == 0 {
		return 0
	}
	if numeric > text {
		return float64(numeric) / float64(total)
	}
	return float64(text) / float64(total)
}

// isNumericCell tolerates thousands separators, which messy exports use
// freely.
func isNumericCell(s string) bool {
	_, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return err == nil
}
