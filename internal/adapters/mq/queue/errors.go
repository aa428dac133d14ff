package queue

import "errors"

// Sentinel kinds for enqueue failures.
var (
	ErrFull   = errors.New("observation queue full")
	ErrClosed = errors.New("observation queue closed")
)
