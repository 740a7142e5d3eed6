package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// stateReaders is the weight of an exclusive hold on the engine state
const stateReaders = 1 << 30

// stateGate is a shared/exclusive lock over the whole engine state. Shared
// holders wait under ctx, so a call made while another operation holds the
// gate fails with the context error instead of hanging behind a pending
// exclusive holder.
type stateGate struct {
	sem *semaphore.Weighted
}

func newStateGate() *stateGate {
	return &stateGate{sem: semaphore.NewWeighted(stateReaders)}
}

func (g *stateGate) share(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("engine state busy: %w", err)
	}
	return func() { g.sem.Release(1) }, nil
}

// exclusive waits for every shared holder to leave
func (g *stateGate) exclusive() func() {
	// Acquire only fails on a done context
	_ = g.sem.Acquire(context.Background(), stateReaders)
	return func() { g.sem.Release(stateReaders) }
}

// roundLocks serializes operations per round. Each round gets a one-slot
// channel; waiting honors ctx so a re-entrant or stuck caller times out
// instead of deadlocking.
type roundLocks struct {
	mu   sync.Mutex
	sems map[uint64]chan struct{}
}

func newRoundLocks() *roundLocks {
	return &roundLocks{sems: make(map[uint64]chan struct{})}
}

func (l *roundLocks) acquire(ctx context.Context, roundID uint64) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	sem, ok := l.sems[roundID]
	if !ok {
		sem = make(chan struct{}, 1)
		l.sems[roundID] = sem
	}
	l.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("round %d busy: %w", roundID, ctx.Err())
	}
}
