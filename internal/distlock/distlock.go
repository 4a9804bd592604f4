package distlock

import "context"

// Lock guards a critical section across processes.
// A Lock value is used from one goroutine at a time.
type Lock interface {
	// Acquire reports whether the lock was taken by this holder.
	Acquire(ctx context.Context) (bool, error)
	// Release frees the lock if this holder still owns it.
	Release(ctx context.Context) error
}
