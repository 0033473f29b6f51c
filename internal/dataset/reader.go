// Package dataset reads private input records: one integer domain value per record.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/inferloop/mwem/pkg/errors"
)

// Options controls how records are read.
type Options struct {
	// Column is the zero-based CSV column holding the value.
	Column int `json:"column" mapstructure:"column"`
	// Header skips the first non-comment record.
	Header bool `json:"header" mapstructure:"header"`
	// Comma is the field delimiter; zero means ','.
	Comma rune `json:"comma" mapstructure:"comma"`
}

// Read parses integer values from CSV or newline-separated input. Blank lines and
// lines starting with '#' are ignored.
func Read(r io.Reader, opts Options) ([]int, error) {
	if opts.Column < 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "column must be non-negative")
	}

	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	var values []int
	skipHeader := opts.Header
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat, "Failed to parse dataset")
		}
		if skipHeader {
			skipHeader = false
			continue
		}

		line, _ := reader.FieldPos(0)
		if opts.Column >= len(record) {
			return nil, errors.NewValidationError(errors.CodeInvalidFormat,
				fmt.Sprintf("line %d has %d fields, want column %d", line, len(record), opts.Column))
		}

		v, err := strconv.Atoi(strings.TrimSpace(record[opts.Column]))
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat,
				fmt.Sprintf("line %d: value is not an integer", line))
		}
		values = append(values, v)
	}

	return values, nil
}

// ReadFile reads the dataset stored at path.
func ReadFile(fs afero.Fs, path string, opts Options) ([]int, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "Failed to open dataset file").
			WithContext("path", path)
	}
	defer f.Close()

	return Read(f, opts)
}
