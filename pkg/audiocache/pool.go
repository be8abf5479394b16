package audiocache

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// blockingPool bounds how many artifact copies run at once. Copies are plain
// blocking file I/O; callers wait for their copy to finish.
type blockingPool struct {
	sem *semaphore.Weighted
}

func newBlockingPool(workers int) *blockingPool {
	if workers < 1 {
		workers = 1
	}
	return &blockingPool{sem: semaphore.NewWeighted(int64(workers))}
}

// run executes fn once a slot is free. ctx only bounds the wait for a slot;
// once fn starts it runs to completion.
func (p *blockingPool) run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire copy slot: %w", err)
	}
	defer p.sem.Release(1)

	return fn()
}
