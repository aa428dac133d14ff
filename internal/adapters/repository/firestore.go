package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreBlobField = "blob"

// FirestoreBackend keeps one document per issuer in a collection. The
// document update time is its version: conditional writes use Create for
// absent documents and a last-update-time precondition otherwise.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreBackend wraps an existing client.
func NewFirestoreBackend(client *firestore.Client, collection string) *FirestoreBackend {
	return &FirestoreBackend{client: client, collection: collection}
}

// OpenFirestore creates a client for project using ambient credentials.
func OpenFirestore(ctx context.Context, project, collection string) (*FirestoreBackend, error) {
	client, err := firestore.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return NewFirestoreBackend(client, collection), nil
}

// Close releases the client.
func (b *FirestoreBackend) Close() error {
	return b.client.Close()
}

func (b *FirestoreBackend) doc(key string) *firestore.DocumentRef {
	return b.client.Collection(b.collection).Doc(escapeKey(key))
}

// Get implements Backend.
func (b *FirestoreBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	blob, _, found, err := b.GetVersion(ctx, key)
	return blob, found, err
}

// GetVersion implements VersionedBackend. The version is the document's
// update time in nanoseconds.
func (b *FirestoreBackend) GetVersion(ctx context.Context, key string) ([]byte, int64, bool, error) {
	snap, err := b.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	v, err := snap.DataAt(firestoreBlobField)
	if err != nil {
		return nil, 0, false, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, 0, false, fmt.Errorf("document %s: field %q is %T, want string", snap.Ref.ID, firestoreBlobField, v)
	}
	return []byte(s), snap.UpdateTime.UnixNano(), true, nil
}

// Set implements Backend.
func (b *FirestoreBackend) Set(ctx context.Context, key string, blob []byte) error {
	_, err := b.doc(key).Set(ctx, b.fields(key, blob))
	return err
}

// SetIfVersion implements VersionedBackend.
func (b *FirestoreBackend) SetIfVersion(ctx context.Context, key string, blob []byte, version int64) error {
	ref := b.doc(key)
	if version == 0 {
		_, err := ref.Create(ctx, b.fields(key, blob))
		return mapFirestoreError(err)
	}
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: firestoreBlobField, Value: string(blob)},
		{Path: "issuer", Value: key},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}, firestore.LastUpdateTime(time.Unix(0, version)))
	return mapFirestoreError(err)
}

func (b *FirestoreBackend) fields(key string, blob []byte) map[string]any {
	return map[string]any{
		firestoreBlobField: string(blob),
		"issuer":           key,
		"updatedAt":        firestore.ServerTimestamp,
	}
}

// mapFirestoreError turns failed preconditions into ErrConflict. A document
// that already exists on create, changed since it was read, or was removed
// in between all mean another writer got there first.
func mapFirestoreError(err error) error {
	switch status.Code(err) {
	case codes.AlreadyExists, codes.FailedPrecondition, codes.NotFound:
		return ErrConflict
	}
	return err
}
