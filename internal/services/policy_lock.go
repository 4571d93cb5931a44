package services

import "sync"

// policyLocks hands out one mutex per policy id. Entries are reference
// counted and dropped when the last holder unlocks.
type policyLocks struct {
	mu      sync.Mutex
	entries map[string]*policyLockEntry
}

type policyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newPolicyLocks() *policyLocks {
	return &policyLocks{entries: make(map[string]*policyLockEntry)}
}

// Lock blocks until id is exclusively held and returns the release func.
func (l *policyLocks) Lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &policyLockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

func (l *policyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
