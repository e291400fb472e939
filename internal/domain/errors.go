package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDataUnavailable means a source has no coverage for a ZIP/year.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrSchemaMismatch means an upstream format changed unexpectedly.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInsufficientHistory means fewer than two historical points exist.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrInvalidPropertyType rejects property types outside the closed enumeration.
	ErrInvalidPropertyType = errors.New("invalid property type")
	// ErrInvalidZip rejects malformed or unknown ZIP codes.
	ErrInvalidZip = errors.New("invalid zip code")
	// ErrInvalidYear rejects years outside the supported range.
	ErrInvalidYear = errors.New("invalid year")
	// ErrModelsNotLoaded is returned when no model set has been loaded yet.
	ErrModelsNotLoaded = errors.New("models not loaded")
	// ErrInvalidRequest rejects well-formed JSON that is not a prediction
	// request, such as one with unexpected keys.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorCode is the stable, caller-facing code for a rejected query.
type ErrorCode string

const (
	CodeInvalidRequest      ErrorCode = "invalid_request"
	CodeInvalidZip          ErrorCode = "invalid_zip"
	CodeInvalidPropertyType ErrorCode = "invalid_property_type"
	CodeInvalidYear         ErrorCode = "invalid_year"
	CodeDataUnavailable     ErrorCode = "data_unavailable"
	CodeInsufficientHistory ErrorCode = "insufficient_history"
)

// CodeOf maps err to the code reported back to the requester. It returns
// false for failures the requester cannot act on.
func CodeOf(err error) (ErrorCode, bool) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest, true
	case errors.Is(err, ErrInvalidZip):
		return CodeInvalidZip, true
	case errors.Is(err, ErrInvalidPropertyType):
		return CodeInvalidPropertyType, true
	case errors.Is(err, ErrInvalidYear):
		return CodeInvalidYear, true
	case errors.Is(err, ErrDataUnavailable):
		return CodeDataUnavailable, true
	case errors.Is(err, ErrInsufficientHistory):
		return CodeInsufficientHistory, true
	default:
		return "", false
	}
}

// SchemaError reports which source and field failed validation.
type SchemaError struct {
	Source string
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("%s: %s: field %q", e.Source, ErrSchemaMismatch, e.Field)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *SchemaError) Unwrap() error { return ErrSchemaMismatch }

// CoverageError lists the keys a source could not cover. Adapters return it
// alongside the records they could build.
type CoverageError struct {
	Source  string
	Missing []string
}

// NewCoverageError returns nil when nothing is missing.
func NewCoverageError(source string, missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	return &CoverageError{Source: source, Missing: sorted}
}

func (e *CoverageError) Error() string {
	keys := e.Missing
	suffix := ""
	if len(keys) > 5 {
		suffix = fmt.Sprintf(" (+%d more)", len(keys)-5)
		keys = keys[:5]
	}
	return fmt.Sprintf("%s: %s for %s%s", e.Source, ErrDataUnavailable, strings.Join(keys, ", "), suffix)
}

func (e *CoverageError) Unwrap() error { return ErrDataUnavailable }
