package protocol

import "errors"

var (
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrInvalidLength     = errors.New("protocol: invalid length")
	ErrFieldTypeMismatch = errors.New("protocol: field type mismatch")
	ErrMissingField      = errors.New("protocol: missing field")
	ErrNilObject         = errors.New("protocol: nil object")
	ErrNestedContainer   = errors.New("protocol: nested container")
)
