package workspace

import (
	"fmt"
	"sync"
)

// Budget tracks the frames and bytes a job has accepted against its limits
type Budget struct {
	limits Limits

	mu     sync.Mutex
	frames int
	bytes  int64
}

func newBudget(limits Limits) *Budget {
	return &Budget{limits: limits}
}

// ReserveFrames claims n more frame slots, failing without side effects if the
// ceiling would be exceeded
func (b *Budget) ReserveFrames(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limits.MaxFrames > 0 && b.frames+n > b.limits.MaxFrames {
		return fmt.Errorf("%w: %d frames exceeds limit of %d", ErrTooManyFrames, b.frames+n, b.limits.MaxFrames)
	}
	b.frames += n
	return nil
}

// Charge records n more accepted bytes
func (b *Budget) Charge(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limits.MaxBytes > 0 && b.bytes+n > b.limits.MaxBytes {
		return fmt.Errorf("%w: exceeds limit of %d bytes", ErrPayloadTooLarge, b.limits.MaxBytes)
	}
	b.bytes += n
	return nil
}

// RemainingBytes returns how many bytes may still be accepted, or -1 when unbounded
func (b *Budget) RemainingBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limits.MaxBytes <= 0 {
		return -1
	}
	return b.limits.MaxBytes - b.bytes
}

// Usage returns the frames and bytes accepted so far
func (b *Budget) Usage() (frames int, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames, b.bytes
}
