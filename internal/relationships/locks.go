package relationships

import (
	"context"
	"sync"
)

// pairLocks serializes mutations per ordered pair. Waiters queue in arrival
// order of the channel send and give up when their context ends.
type pairLocks struct {
	mu    sync.Mutex
	slots map[PairKey]*pairSlot
}

type pairSlot struct {
	held chan struct{}
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{slots: make(map[PairKey]*pairSlot)}
}

// acquire blocks until the pair is free and returns the release func.
func (l *pairLocks) acquire(ctx context.Context, key PairKey) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &pairSlot{held: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.held <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.held
				l.drop(key, slot)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, slot)
		return nil, ctx.Err()
	}
}

func (l *pairLocks) drop(key PairKey, slot *pairSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *pairLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
