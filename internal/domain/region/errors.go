package region

import "errors"

// Sentinel kinds for region errors.
var (
	ErrDecode     = errors.New("template blob decode failed")
	ErrEncode     = errors.New("template blob encode failed")
	ErrEmptyField = errors.New("field name must not be empty")
)

// DecodeError carries the parser failure behind an undecodable blob.
// It matches both ErrDecode and the underlying cause with errors.Is/As.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode template blob: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
