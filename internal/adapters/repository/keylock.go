package repository

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// keyLock serializes work per key using a fixed set of lock stripes.
// Keys that hash to the same stripe share a lock.
type keyLock struct {
	stripes []chan struct{}
}

func newKeyLock(n int) *keyLock {
	if n <= 0 {
		n = 1
	}
	l := &keyLock{stripes: make([]chan struct{}, n)}
	for i := range l.stripes {
		l.stripes[i] = make(chan struct{}, 1)
	}
	return l
}

func (l *keyLock) stripe(key string) chan struct{} {
	return l.stripes[xxhash.Sum64String(key)%uint64(len(l.stripes))]
}

// lock blocks until the key's stripe is free or ctx is done.
func (l *keyLock) lock(ctx context.Context, key string) (func(), error) {
	ch := l.stripe(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
