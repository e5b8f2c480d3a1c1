package store

import (
	"sync"

	"afr.dev/console/internal/gps/fix"
)

// FixStore holds the most recent fix only. Set always wins, regardless of
// the timestamp carried by the fix.
type FixStore struct {
	mu  sync.RWMutex
	fix fix.Fix
	ok  bool
}

func NewFixStore() *FixStore {
	return &FixStore{}
}

func (st *FixStore) Set(f fix.Fix) {
	st.mu.Lock()
	st.fix = f
	st.ok = true
	st.mu.Unlock()
}

// Get returns false until the first fix is set.
func (st *FixStore) Get() (fix.Fix, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.fix, st.ok
}
