// Package debounce provides trailing debouncers scoped by key, so that each logical action (one rating
// control, one scroll target) has its own timer instead of sharing a global one.
package debounce

import (
	"sync"
	"time"

	"github.com/bep/debounce"
)

// Keyed runs the last function submitted for a key once the key has been quiet for the configured delay.
// A key is forgotten once its function ran, so the number of tracked keys stays bounded by the pending
// ones.
type Keyed struct {
	delay time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	debounced func(func())
	// seq counts the submissions for the key; only the latest one may forget it.
	seq uint64
}

// NewKeyed creates a keyed debouncer. A non-positive delay runs functions synchronously.
func NewKeyed(delay time.Duration) *Keyed {
	return &Keyed{
		delay:   delay,
		entries: make(map[string]*entry),
	}
}

// Do schedules f for key, replacing any function still pending for the same key.
func (k *Keyed) Do(key string, f func()) {
	if k.delay <= 0 {
		f()
		return
	}

	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{debounced: debounce.New(k.delay)}
		k.entries[key] = e
	}
	e.seq++
	seq := e.seq
	k.mu.Unlock()

	e.debounced(func() {
		k.mu.Lock()
		if k.entries[key] == e && e.seq == seq {
			delete(k.entries, key)
		}
		k.mu.Unlock()

		f()
	})
}

// Pending returns the number of keys with a function waiting to run.
func (k *Keyed) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
