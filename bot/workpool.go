package main

import "context"

// workPool bounds how many transcription/extraction calls run at once so a
// burst of voice notes cannot starve the consumers.
type workPool struct {
	slots chan struct{}
}

func NewWorkPool(size int) *workPool {
	return &workPool{slots: make(chan struct{}, size)}
}

// Do runs fn while holding a slot, waiting for one if the pool is full.
func (p *workPool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()

	return fn()
}
