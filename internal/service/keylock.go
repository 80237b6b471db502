package service

import (
	"slices"
	"sync"
)

// keyedMutex serializes work per gear id inside one process.  Locks for
// several ids are always taken in ascending order so two callers with
// overlapping sets cannot deadlock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uint64]*refMutex)}
}

// Lock acquires the locks of ids and returns the function releasing them.
func (k *keyedMutex) Lock(ids []uint64) (unlock func()) {
	keys := slices.Clone(ids)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*refMutex, 0, len(keys))
	for _, id := range keys {
		k.mu.Lock()
		m, ok := k.locks[id]
		if !ok {
			m = &refMutex{}
			k.locks[id] = m
		}
		m.refs++
		k.mu.Unlock()

		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
		k.mu.Lock()
		for i, id := range keys {
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, id)
			}
		}
		k.mu.Unlock()
	}
}
