package storage

import "sync"

type lockEntry struct {
	mu   sync.RWMutex
	refs int
}

type lockTable struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{m: map[string]*lockEntry{}}
}

func (t *lockTable) acquire(key string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.m[key]
	if !ok {
		e = &lockEntry{}
		t.m[key] = e
	}
	e.refs++
	return e
}

func (t *lockTable) release(key string, e *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.m, key)
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// ItemLock guards read-modify-write sequences on a single item. RLock is the
// shared "read" action, Lock the exclusive "update" action. Locks are not
// reentrant: release the read lock before taking the update lock, then
// re-check whatever was decided under the read lock.
//
// A handle is meant for one goroutine; obtain a fresh one per operation.
type ItemLock struct {
	table *lockTable
	key   string
	held  *lockEntry
}

func (l *ItemLock) RLock() {
	e := l.table.acquire(l.key)
	e.mu.RLock()
	l.held = e
}

func (l *ItemLock) RUnlock() {
	e := l.held
	l.held = nil
	e.mu.RUnlock()
	l.table.release(l.key, e)
}

func (l *ItemLock) Lock() {
	e := l.table.acquire(l.key)
	e.mu.Lock()
	l.held = e
}

func (l *ItemLock) Unlock() {
	e := l.held
	l.held = nil
	e.mu.Unlock()
	l.table.release(l.key, e)
}
