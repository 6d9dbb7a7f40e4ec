package escrow

import "sync"

// lockTable hands out one mutex per key. Entries are reference counted and
// dropped when the last holder unlocks, so the table only holds keys in use.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// lock blocks until key is held and returns the function that releases it.
func (t *lockTable) lock(key string) (unlock func()) {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

// size returns the number of keys currently locked or waited on.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
