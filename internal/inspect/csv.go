package inspect

import (
	"bytes"
	"context"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/caribdata/opendata-cli/internal/fetcher"
	"github.com/caribdata/opendata-cli/internal/model"
)

var delimiterCandidates = []rune{',', ';', '\t', '|'}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// delimited builds findings for a CSV or delimited text file: encoding,
// delimiter, shape, ragged rows, header guess.
func (ins *Inspector) delimited(ctx context.Context, path string) (model.FileReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.FileReport{}, &UnreadableFileError{Path: path, Err: err}
	}

	text, encoding, err := decodeText(raw, ins.opts.FallbackEncoding)
	if err != nil {
		return model.FileReport{}, &UnreadableFileError{Path: path, Err: err}
	}

	delimiter := sniffDelimiter(text, ins.opts.SampleLines)
	rows, err := fetcher.ReadCSVRows(ctx, strings.NewReader(text), fetcher.CSVOptions{
		Delimiter:  delimiter,
		LazyQuotes: true,
	})
	if err != nil {
		// Cancellation is not a property of the file.
		if ctx.Err() != nil {
			return model.FileReport{}, err
		}
		return model.FileReport{}, &UnreadableFileError{Path: path, Err: err}
	}

	cols, ragged := rowShape(rows)
	csvReport := &model.CSVReport{
		Delimiter:  string(delimiter),
		Encoding:   encoding,
		Rows:       len(rows),
		Cols:       cols,
		RaggedRows: ragged,
	}
	if header, confidence, ok := guessHeader(rows, ins.opts.MaxScanRows); ok {
		h := header
		csvReport.HeaderRow = &h
		csvReport.Confidence = confidence
	}

	return model.FileReport{Path: path, Type: model.FileTypeCSV, CSV: csvReport}, nil
}

// decodeText returns the file content as UTF-8 text plus the encoding label
// it settled on. Bytes that are neither BOM-prefixed nor valid UTF-8 go
// through the fallback charset.
func decodeText(raw []byte, fallback string) (text string, encoding string, err error) {
	if bytes.HasPrefix(raw, utf8BOM) {
		return string(raw[len(utf8BOM):]), "utf-8-bom", nil
	}
	if utf8.Valid(raw) {
		return string(raw), "utf-8", nil
	}

	enc, err := htmlindex.Get(fallback)
	if err != nil {
		return "", "", eris.Wrapf(err, "inspect: unknown fallback charset %q", fallback)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", "", eris.Wrapf(err, "inspect: decode as %s", fallback)
	}
	return string(decoded), fallback, nil
}

// sniffDelimiter picks the candidate splitting the sample lines into the most
// consistent field counts. Splitting is quote-blind on purpose; this is a
// shape probe, not a parse. Falls back to comma when nothing splits at all.
func sniffDelimiter(text string, sampleLines int) rune {
	var sample []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		sample = append(sample, line)
		if len(sample) == sampleLines {
			break
		}
	}
	if len(sample) == 0 {
		return ','
	}

	bestDelim := ','
	bestModal := 1
	bestScore := 0.0
	for _, d := range delimiterCandidates {
		counts := make(map[int]int)
		for _, line := range sample {
			counts[len(strings.Split(line, string(d)))]++
		}
		modal, occurrences := 0, 0
		for width, c := range counts {
			if c > occurrences || (c == occurrences && width > modal) {
				modal, occurrences = width, c
			}
		}
		if modal < 2 {
			continue
		}
		score := float64(occurrences) / float64(len(sample))
		if score > bestScore || (score == bestScore && modal > bestModal) {
			bestDelim, bestModal, bestScore = d, modal, score
		}
	}
	return bestDelim
}

// rowShape returns the modal field count and how many rows deviate from it.
func rowShape(rows [][]string) (cols int, ragged int) {
	if len(rows) == 0 {
		return 0, 0
	}
	counts := make(map[int]int)
	for _, row := range rows {
		counts[len(row)]++
	}
	occurrences := 0
	for width, c := range counts {
		if c > occurrences || (c == occurrences && width > cols) {
			cols, occurrences = width, c
		}
	}
	for _, row := range rows {
		if len(row) != cols {
			ragged++
		}
	}
	return cols, ragged
}
