package budget

import (
	"sync"
	"time"
)

// Budget is a depleting allowance of abstract work units shared by reference
// across every concurrent sub-unit of one request. All mutation happens under
// one mutex so sibling readers always observe a consistent remaining value.
// Once depleted or past its deadline the budget latches expired: in-flight
// work may finish, nothing new starts.
type Budget struct {
	mu        sync.Mutex
	total     float64
	remaining float64
	deadline  time.Time // zero means no wall-clock bound
	expired   bool
	started   time.Time
}

// Allocate creates a root budget of the given units.
func Allocate(units float64) *Budget {
	if units < 0 {
		units = 0
	}
	return &Budget{total: units, remaining: units, started: time.Now()}
}

// AllocateWithin creates a root budget that additionally expires once the
// wall-clock timeout elapses. A zero or negative timeout means no deadline.
func AllocateWithin(units float64, timeout time.Duration) *Budget {
	b := Allocate(units)
	if timeout > 0 {
		b.deadline = b.started.Add(timeout)
	}
	return b
}

// Derive reserves min(share, remaining) units out of b and returns a child
// backed by that reservation. Because the units move out of the parent at
// derive time, a child's depletion never affects its siblings. The child
// inherits the parent's deadline. Deriving from an expired budget yields an
// already-expired child.
func (b *Budget) Derive(share float64) *Budget {
	if share < 0 {
		share = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	grant := share
	if b.expiredLocked(time.Now()) {
		grant = 0
	} else if grant > b.remaining {
		grant = b.remaining
	}
	b.remaining -= grant
	child := &Budget{
		total:     grant,
		remaining: grant,
		deadline:  b.deadline,
		started:   time.Now(),
	}
	if grant <= 0 {
		child.expired = true
	}
	return child
}

// Consume decrements remaining by amount. When remaining would go negative,
// or the deadline has passed, it leaves remaining untouched and returns an
// ExhaustedError. The error is a stop signal, not a failure: the caller that
// receives it must stop starting new work and return best-effort results.
// An overdraw by one unit does not expire the budget for siblings asking for
// less; only actual depletion or the deadline does. Amounts <= 0 are no-ops.
func (b *Budget) Consume(amount float64) error {
	if amount <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if !b.deadline.IsZero() && now.After(b.deadline) {
		b.expired = true
		return ExhaustedError{Kind: KindDeadline, Requested: amount, Remaining: b.remaining}
	}
	if b.expired || b.remaining <= 0 {
		return ExhaustedError{Kind: KindUnits, Requested: amount, Remaining: b.remaining}
	}
	if amount > b.remaining {
		return ExhaustedError{Kind: KindUnits, Requested: amount, Remaining: b.remaining}
	}
	b.remaining -= amount
	if b.remaining <= 0 {
		b.expired = true
	}
	return nil
}

// IsExpired is the non-blocking cancellation check: latched, depleted, or
// past the deadline.
func (b *Budget) IsExpired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expiredLocked(time.Now())
}

func (b *Budget) expiredLocked(now time.Time) bool {
	if b.expired || b.remaining <= 0 {
		return true
	}
	if !b.deadline.IsZero() && now.After(b.deadline) {
		b.expired = true
		return true
	}
	return false
}

// Remaining returns the units left.
func (b *Budget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Elapsed returns how long the budget has been alive.
func (b *Budget) Elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Since(b.started)
}

// Usage is a point-in-time snapshot for logging and persistence.
type Usage struct {
	Total     float64       `json:"total"`
	Spent     float64       `json:"spent"`
	Remaining float64       `json:"remaining"`
	Elapsed   time.Duration `json:"elapsed"`
	Expired   bool          `json:"expired"`
}

// Usage returns the accumulated metrics.
func (b *Budget) Usage() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Usage{
		Total:     b.total,
		Spent:     b.total - b.remaining,
		Remaining: b.remaining,
		Elapsed:   time.Since(b.started),
		Expired:   b.expiredLocked(time.Now()),
	}
}
