package repository

import "errors"

// Sentinel kinds for template store errors.
var (
	// ErrInvalidIssuer is returned for an empty issuer key.
	ErrInvalidIssuer = errors.New("invalid issuer key")
	// ErrBackend wraps any failure reported by the blob backend.
	ErrBackend = errors.New("template backend failure")
	// ErrConflict reports that a conditional write lost against a concurrent writer.
	ErrConflict = errors.New("template version conflict")
)
