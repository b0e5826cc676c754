package snapshot

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies why a snapshot was rejected
type DecodeErrorKind string

const (
	Malformed         DecodeErrorKind = "malformed"
	UnsupportedSchema DecodeErrorKind = "unsupported_schema"
	CountMismatch     DecodeErrorKind = "count_mismatch"
	ChecksumMismatch  DecodeErrorKind = "checksum_mismatch"
)

// DecodeError is returned by Decode and DecodeMetadata. A DecodeError means
// nothing from the input was accepted.
type DecodeError struct {
	Kind DecodeErrorKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("snapshot decode failed (%s): %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(kind DecodeErrorKind, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// IsDecodeError reports whether err is (or wraps) a DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// KindOf returns the DecodeErrorKind of err, or "" if err is not a DecodeError
func KindOf(err error) DecodeErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
