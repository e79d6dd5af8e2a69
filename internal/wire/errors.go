package wire

import (
	"errors"
	"fmt"
)

// CodecErrorKind categorizes codec failures.
type CodecErrorKind string

const (
	// KindCorrupt means stored payload bytes could not be decoded.
	// Retrying cannot fix a corrupt row, so callers treat this as terminal.
	KindCorrupt CodecErrorKind = "corrupt"

	// KindInvalid means an in-memory payload could not be encoded
	// (missing required fields, empty content union).
	KindInvalid CodecErrorKind = "invalid"
)

// CodecError is the typed failure returned by all encode/decode functions.
type CodecError struct {
	Kind CodecErrorKind
	Op   string // "publish" or "unpublish"
	Err  error
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	return fmt.Sprintf("%s %s payload: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *CodecError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether err is a corrupt-payload codec error.
// Uses errors.As to handle wrapped errors.
func IsCorrupt(err error) bool {
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce.Kind == KindCorrupt
	}
	return false
}

func corruptErr(op string, err error) *CodecError {
	return &CodecError{Kind: KindCorrupt, Op: op, Err: err}
}

func encodeErr(op string, err error) *CodecError {
	return &CodecError{Kind: KindInvalid, Op: op, Err: err}
}
