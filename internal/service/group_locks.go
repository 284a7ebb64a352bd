package service

import "sync"

// groupLocks hands out one mutex per client group and forgets it once no
// caller holds or waits for it.
type groupLocks struct {
	mu    sync.Mutex
	locks map[string]*groupLock
}

type groupLock struct {
	mu   sync.Mutex
	refs int
}

func newGroupLocks() *groupLocks {
	return &groupLocks{locks: make(map[string]*groupLock)}
}

// lock blocks until the group's mutex is held and returns its release func.
func (g *groupLocks) lock(clientGroupID string) func() {
	g.mu.Lock()
	l, ok := g.locks[clientGroupID]
	if !ok {
		l = &groupLock{}
		g.locks[clientGroupID] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, clientGroupID)
		}
		g.mu.Unlock()
	}
}
