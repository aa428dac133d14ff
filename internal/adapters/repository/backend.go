// Package repository persists issuer templates on top of opaque blob backends.
package repository

import (
	"context"
	"net/url"
)

// Backend is a durable string-keyed blob store.
type Backend interface {
	// Get returns the blob stored under key. found is false when nothing is stored.
	Get(ctx context.Context, key string) (blob []byte, found bool, err error)
	// Set overwrites the blob stored under key.
	Set(ctx context.Context, key string, blob []byte) error
}

// VersionedBackend is a Backend that supports compare-and-swap writes.
// Version 0 stands for "absent".
type VersionedBackend interface {
	Backend
	GetVersion(ctx context.Context, key string) (blob []byte, version int64, found bool, err error)
	// SetIfVersion writes blob only when the stored version still equals
	// version, and returns ErrConflict otherwise.
	SetIfVersion(ctx context.Context, key string, blob []byte, version int64) error
}

// escapeKey maps an arbitrary issuer key to a name safe for document ids and
// object paths.
func escapeKey(key string) string {
	return "issuer-" + url.PathEscape(key)
}
