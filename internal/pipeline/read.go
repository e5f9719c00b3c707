package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"remaininggoods/internal"
)

type ParseWarning struct {
	Line    int
	Message string
}

// ReadRecords decodes an export file into header-keyed rows. xlsx workbooks
// are read from their first sheet; anything else is delimited text.
func ReadRecords(path string, delimiter rune) ([]internal.RawRecord, []ParseWarning, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		records, err := readXLSX(path)
		return records, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return DecodeDelimited(f, delimiter)
}

// DecodeDelimited reads a header row and maps every following row onto it.
// Columns with an empty header are dropped; short rows only carry the columns
// they have.
func DecodeDelimited(r io.Reader, delimiter rune) ([]internal.RawRecord, []ParseWarning, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = string(bytes.TrimPrefix([]byte(header[0]), utf8BOM))
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var (
		out      []internal.RawRecord
		warnings []ParseWarning
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				warnings = append(warnings, ParseWarning{Line: parseErr.Line, Message: parseErr.Err.Error()})
				continue
			}
			return out, warnings, err
		}
		line, _ := reader.FieldPos(0)
		if len(row) > len(header) {
			warnings = append(warnings, ParseWarning{Line: line, Message: fmt.Sprintf("%d fields, header has %d", len(row), len(header))})
		}
		out = append(out, mapRow(line, header, row))
	}
	return out, warnings, nil
}

func readXLSX(path string) ([]internal.RawRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}

	var (
		header []string
		out    []internal.RawRecord
	)
	for i, row := range rows {
		if isBlankRow(row) {
			continue
		}
		if header == nil {
			header = make([]string, len(row))
			for j, cell := range row {
				header[j] = strings.TrimSpace(cell)
			}
			continue
		}
		out = append(out, mapRow(i+1, header, row))
	}
	return out, nil
}

func mapRow(line int, header, row []string) internal.RawRecord {
	rec := internal.RawRecord{Line: line, Fields: make(map[string]string, len(header))}
	for i, name := range header {
		if name == "" || i >= len(row) {
			continue
		}
		if _, dup := rec.Fields[name]; !dup {
			rec.Keys = append(rec.Keys, name)
		}
		rec.Fields[name] = row[i]
	}
	return rec
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
