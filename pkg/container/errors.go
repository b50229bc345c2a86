package container

import (
	"errors"
	"fmt"
)

// Envelope errors. All of them abort the analysis before a breakdown exists.
var (
	ErrFormat    = errors.New("invalid GLB magic number")
	ErrVersion   = errors.New("unsupported GLB version")
	ErrTruncated = errors.New("truncated GLB data")
	ErrOverflow  = errors.New("byte count exceeds int64 range")
)

// StructuredDataError reports a JSON chunk that could not be parsed or whose
// declared byte counts overflow.
type StructuredDataError struct {
	Offset uint64 // offset of the chunk header
	Err    error
}

func (e *StructuredDataError) Error() string {
	return fmt.Sprintf("parse JSON chunk at offset %d: %v", e.Offset, e.Err)
}

func (e *StructuredDataError) Unwrap() error {
	return e.Err
}
