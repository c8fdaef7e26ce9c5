package locking

import "sync"

// KeyedMutex serializes all work against the same key while leaving work on
// distinct keys fully concurrent. Every note and chat identifier maps to its
// own lock, giving each entity the strict operation ordering the one-time
// read and single message slot depend on.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu       sync.Mutex
	refCount int
}

// NewKeyedMutex constructs an empty lock registry.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Acquire blocks until the lock for key is held and returns the release
// function. Entries are reference counted so the registry does not grow with
// the number of keys ever seen.
func (k *KeyedMutex) Acquire(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{}
		k.entries[key] = entry
	}
	entry.refCount++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refCount--
		if entry.refCount == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
