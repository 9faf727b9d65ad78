package variant

import (
	"errors"
	"fmt"
)

var (
	ErrMissingHGVSColumn   = errors.New("missing hgvs column")
	ErrNoNumericColumn     = errors.New("no numeric column")
	ErrNullColumnName      = errors.New("null column name")
	ErrDuplicateColumn     = errors.New("duplicate column")
	ErrMissingScoreColumn  = errors.New("missing score column")
	ErrEmptyFile           = errors.New("empty file")
	ErrMalformedRow        = errors.New("malformed row")
	ErrNotNumeric          = errors.New("non-numeric value")
	ErrNullPrimaryKey      = errors.New("null primary key")
	ErrDuplicatePrimaryKey = errors.New("duplicate primary key")
	ErrInvalidHGVS         = errors.New("invalid hgvs")
	ErrPrimaryMismatch     = errors.New("primary column mismatch")
	ErrColumnMismatch      = errors.New("column set mismatch")
)

// ValidationError locates a problem in an uploaded file. Line is 1-based and
// counts the header; zero means the problem is not tied to a line.
type ValidationError struct {
	Column string
	Line   int
	Err    error
	Msg    string
}

func (e *ValidationError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Err.Error()
	}
	switch {
	case e.Line > 0 && e.Column != "":
		return fmt.Sprintf("line %d, column %q: %s", e.Line, e.Column, msg)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	case e.Column != "":
		return fmt.Sprintf("column %q: %s", e.Column, msg)
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, column string, line int, format string, args ...any) *ValidationError {
	return &ValidationError{
		Column: column,
		Line:   line,
		Err:    err,
		Msg:    fmt.Sprintf(format, args...),
	}
}
