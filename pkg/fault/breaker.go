package fault

import (
	"sync"
	"time"
)

// Breaker is a simple per-operation circuit breaker. An operation's circuit
// opens when a retried call ultimately fails, which suppresses further
// retries for that operation during the cooldown window. The entry is removed
// on the first successful call after the cooldown expired.
type Breaker struct {
	mu       sync.Mutex
	cooldown time.Duration
	openedAt map[string]time.Time

	now func() time.Time // swappable for tests
}

// NewBreaker creates a breaker with the given cooldown.
func NewBreaker(cooldown time.Duration) *Breaker {
	return &Breaker{
		cooldown: cooldown,
		openedAt: map[string]time.Time{},
		now:      time.Now,
	}
}

// Open records the final failure of the operation, opening its circuit.
func (b *Breaker) Open(operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openedAt[operation] = b.now()
}

// IsOpen reports whether the operation's circuit is open, i.e. whether its
// cooldown window is still running. An expired entry stays recorded until the
// next successful call removes it.
func (b *Breaker) IsOpen(operation string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	opened, ok := b.openedAt[operation]
	if !ok {
		return false
	}
	return b.now().Sub(opened) < b.cooldown
}

// OnSuccess closes the operation's circuit after a successful call.
func (b *Breaker) OnSuccess(operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.openedAt, operation)
}

// Reset transitions an open circuit to closed immediately.
func (b *Breaker) Reset(operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.openedAt, operation)
}

// ResetAll clears every circuit.
func (b *Breaker) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openedAt = map[string]time.Time{}
}

// OpenOperations returns the names of currently open circuits.
func (b *Breaker) OpenOperations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ops []string
	for op, opened := range b.openedAt {
		if b.now().Sub(opened) < b.cooldown {
			ops = append(ops, op)
		}
	}
	return ops
}
