package accesssync

import (
	"sort"
	"sync"
)

// keyedMutex serializes work per record ID so concurrent merges of the same
// record inside one process cannot interleave their read-modify-write.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*entry{}}
}

// lock acquires the mutex for key, creating it on first use.
func (k *keyedMutex) lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// unlock releases the mutex for key and frees it when no one waits.
func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()
	e := k.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// lockAll acquires all keys in sorted order so two callers locking
// overlapping sets cannot deadlock. Returns the release function.
func (k *keyedMutex) lockAll(keys []string) func() {
	ordered := append([]string(nil), keys...)
	sort.Strings(ordered)

	for _, key := range ordered {
		k.lock(key)
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			k.unlock(ordered[i])
		}
	}
}
