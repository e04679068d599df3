package buddy

import "errors"

var (
	// ErrInitialized indicates a second Init call on the same allocator.
	ErrInitialized = errors.New("buddy: already initialized")

	// ErrNotInitialized indicates the backing pmm allocator is not ready.
	ErrNotInitialized = errors.New("buddy: pmm not initialized")

	// ErrBadOrder indicates a negative or absurdly large order.
	ErrBadOrder = errors.New("buddy: order out of range")
)
