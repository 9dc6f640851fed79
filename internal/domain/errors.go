package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates malformed parameters or document input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable indicates the embedding backend could not be loaded or reached.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrDimensionMismatch indicates a vector whose size differs from the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrModelUnavailable indicates the language model call failed.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrModelTimeout indicates the language model call exceeded its deadline.
	ErrModelTimeout = errors.New("model timeout")
)

// DimensionError reports the expected and offending vector sizes.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: index has %d dimensions, vector has %d", ErrDimensionMismatch, e.Expected, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// IngestError names the document and stage at which ingestion failed.
type IngestError struct {
	DocumentID string
	Stage      DocumentState
	Err        error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// InvalidInputf wraps ErrInvalidInput with a formatted reason.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
