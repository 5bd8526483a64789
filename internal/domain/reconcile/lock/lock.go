// Package lock provides per-account reader/writer locks. Imports, review
// edits and learning take the shared side; commit takes the exclusive side.
package lock

import (
	"bytes"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Accounts is a registry of account locks. The zero value is ready to use.
type Accounts struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.RWMutex
}

// New creates an empty registry.
func New() *Accounts {
	return &Accounts{}
}

func (a *Accounts) get(accountID uuid.UUID) *sync.RWMutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.locks == nil {
		a.locks = make(map[uuid.UUID]*sync.RWMutex)
	}
	l, ok := a.locks[accountID]
	if !ok {
		l = &sync.RWMutex{}
		a.locks[accountID] = l
	}
	return l
}

// Lock takes the exclusive lock for an account and returns its release func.
func (a *Accounts) Lock(accountID uuid.UUID) func() {
	l := a.get(accountID)
	l.Lock()
	return l.Unlock
}

// RLock takes the shared lock for an account and returns its release func.
func (a *Accounts) RLock(accountID uuid.UUID) func() {
	l := a.get(accountID)
	l.RLock()
	return l.RUnlock
}

// RLockAll takes shared locks on several accounts in a fixed order so that
// concurrent callers cannot deadlock against each other.
func (a *Accounts) RLockAll(accountIDs []uuid.UUID) func() {
	ids := slices.Clone(accountIDs)
	slices.SortFunc(ids, func(x, y uuid.UUID) int { return bytes.Compare(x[:], y[:]) })
	ids = slices.Compact(ids)

	releases := make([]func(), 0, len(ids))
	for _, id := range ids {
		releases = append(releases, a.RLock(id))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}
