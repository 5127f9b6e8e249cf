package service

import "context"

// runLimiter is a simple counting limiter bounding concurrent upstream runs.
type runLimiter struct {
	tokens chan struct{}
}

// newRunLimiter creates a limiter with a fixed capacity.
func newRunLimiter(size int) *runLimiter {
	if size <= 0 {
		size = 1
	}
	tokens := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		tokens <- struct{}{}
	}
	return &runLimiter{tokens: tokens}
}

// Acquire blocks until a slot is available or ctx is canceled.
func (l *runLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.tokens:
		return nil
	}
}

// Release returns a slot to the limiter.
func (l *runLimiter) Release() {
	select {
	case l.tokens <- struct{}{}:
	default:
	}
}
