package service

import (
	"sort"
	"sync"
)

// CollectionLocks hands out a reader/writer lock per collection name. Restores
// take write locks on their targets; snapshot reads take read locks.
type CollectionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewCollectionLocks() *CollectionLocks {
	return &CollectionLocks{locks: map[string]*sync.RWMutex{}}
}

func (l *CollectionLocks) get(name string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[name]
	if !ok {
		lock = &sync.RWMutex{}
		l.locks[name] = lock
	}
	return lock
}

// Lock takes exclusive locks on every named collection in sorted order, so two
// callers with overlapping sets cannot deadlock.
func (l *CollectionLocks) Lock(names []string) (unlock func()) {
	ordered := sortedUnique(names)
	held := make([]*sync.RWMutex, 0, len(ordered))
	for _, name := range ordered {
		lock := l.get(name)
		lock.Lock()
		held = append(held, lock)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// RLock takes shared locks on every named collection in sorted order.
func (l *CollectionLocks) RLock(names []string) (unlock func()) {
	ordered := sortedUnique(names)
	held := make([]*sync.RWMutex, 0, len(ordered))
	for _, name := range ordered {
		lock := l.get(name)
		lock.RLock()
		held = append(held, lock)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].RUnlock()
		}
	}
}

func sortedUnique(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
