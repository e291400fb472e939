// Package tabular reads header-addressed CSV exports and reports schema
// drift as domain.SchemaError.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Table is a CSV stream whose columns are looked up by header name.
type Table struct {
	source string
	r      *csv.Reader
	cols   map[string]int
	line   int
}

// Open reads the header row and checks that every required column exists.
// Header names are matched case-insensitively after trimming.
func Open(source string, r io.Reader, required ...string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.SchemaError{Source: source, Field: "header", Detail: "empty file"}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", source, err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[normalize(h)] = i
	}
	for _, name := range required {
		if _, ok := cols[normalize(name)]; !ok {
			return nil, &domain.SchemaError{Source: source, Field: name, Detail: "missing column"}
		}
	}
	return &Table{source: source, r: cr, cols: cols, line: 1}, nil
}

// Next returns the next row, or io.EOF when the table is exhausted.
func (t *Table) Next() (Row, error) {
	rec, err := t.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		return Row{}, fmt.Errorf("%s: line %d: %w", t.source, t.line+1, err)
	}
	t.line++
	return Row{t: t, rec: rec}, nil
}

// Has reports whether the header contains column name.
func (t *Table) Has(name string) bool {
	_, ok := t.cols[normalize(name)]
	return ok
}

// Row is one CSV record bound to its table's header.
type Row struct {
	t   *Table
	rec []string
}

// Line is the 1-based line number of the row in the source file.
func (r Row) Line() int { return r.t.line }

// String returns the trimmed cell for column name, or "" when absent.
func (r Row) String(name string) string {
	i, ok := r.t.cols[normalize(name)]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

// Float parses a required numeric cell. Unparseable values are schema errors.
func (r Row) Float(name string) (float64, error) {
	s := r.String(name)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, r.mistyped(name, s)
	}
	return v, nil
}

// OptionalFloat parses a numeric cell that may be blank.
func (r Row) OptionalFloat(name string) (domain.Measure, error) {
	s := r.String(name)
	if s == "" || strings.EqualFold(s, "NA") || strings.EqualFold(s, "null") {
		return domain.Missing(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.Missing(), r.mistyped(name, s)
	}
	return domain.Valid(v), nil
}

// Int parses a required integer cell. Values like "2019.0" are accepted.
func (r Row) Int(name string) (int, error) {
	s := r.String(name)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, r.mistyped(name, s)
	}
	return int(f), nil
}

// Decimal parses a monetary cell. Blank cells are zero.
func (r Row) Decimal(name string) (decimal.Decimal, error) {
	s := r.String(name)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, r.mistyped(name, s)
	}
	return d, nil
}

// ZIP normalizes a ZIP cell: ZIP+4 suffixes are dropped and short numeric
// values are zero padded. The boolean is false for unusable values.
func (r Row) ZIP(name string) (string, bool) {
	s := r.String(name)
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "", false
	}
	if len(s) < 5 {
		if _, err := strconv.Atoi(s); err == nil {
			s = strings.Repeat("0", 5-len(s)) + s
		}
	}
	return s, domain.ValidZIP(s)
}

func (r Row) mistyped(name, value string) error {
	return &domain.SchemaError{
		Source: r.t.source,
		Field:  name,
		Detail: fmt.Sprintf("line %d: unparseable value %q", r.t.line, value),
	}
}

func normalize(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}
