package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is a caller error, rejected before any I/O.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrNotFound is returned for unknown station ids.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable means the archive could not be reached after retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrSourceUnavailable means the station directory document could not be fetched.
	ErrSourceUnavailable = errors.New("station source unavailable")
)

// InvalidParameter wraps ErrInvalidParameter with a message naming the parameter.
func InvalidParameter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// ParseError describes one upstream record that could not be decoded.
type ParseError struct {
	Source string
	Line   int
	Record string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d: %v (record %q)", e.Source, e.Line, e.Err, e.Record)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
