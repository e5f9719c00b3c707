package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"remaininggoods/internal"
)

// Loader turns a downloaded export into validated records.
type Loader struct {
	validator *Validator
	delimiter rune
	log       *slog.Logger
}

func NewLoader(opts ValidationOptions, delimiter rune, log *slog.Logger) *Loader {
	if delimiter == 0 {
		delimiter = ';'
	}
	return &Loader{validator: NewValidator(opts, log), delimiter: delimiter, log: log}
}

// Load transcodes the file to UTF-8 in place when needed, decodes it and
// validates every row. An error means nothing in the file could be read.
func (l *Loader) Load(path string) ([]internal.ValidatedRecord, internal.ValidationSummary, error) {
	if !strings.EqualFold(filepath.Ext(path), ".xlsx") {
		charset, err := EnsureUTF8(path)
		if err != nil {
			return nil, internal.ValidationSummary{}, fmt.Errorf("charset of %s: %w", filepath.Base(path), err)
		}
		if !isUTF8Name(charset) {
			l.log.Info("file transcoded to utf-8", "file", filepath.Base(path), "from", charset)
		}
	}

	raws, warnings, err := ReadRecords(path, l.delimiter)
	if err != nil {
		return nil, internal.ValidationSummary{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	for _, w := range warnings {
		l.log.Warn("malformed row", "line", w.Line, "issue", w.Message)
	}

	records, summary := l.validator.Validate(raws)
	l.log.Info("file validated", "file", filepath.Base(path), "rows", summary.Total, "accepted", summary.Accepted, "dropped", summary.Dropped)
	return records, summary, nil
}
