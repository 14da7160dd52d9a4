// Package lock serializes mutations per key (a user's goal graph) inside one
// process. Different keys never contend.
package lock

import (
	"context"
	"sync"
)

// Keyed is a set of mutexes addressed by string key, created on demand and
// dropped once no goroutine holds or waits for them.
//
// All methods are safe for concurrent use.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	// sem has capacity 1: a successful send is an acquire
	sem  chan struct{}
	refs int
}

// NewKeyed creates an empty keyed mutex.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Lock blocks until the lock for key is held or ctx is done.
// The returned unlock function is idempotent.
func (k *Keyed) Lock(ctx context.Context, key string) (unlock func(), err error) {
	e := k.ref(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.unref(key, e)
		})
	}, nil
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
