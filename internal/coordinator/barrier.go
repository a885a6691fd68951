// Package coordinator provides the start-time coordination server.
// This file implements the barrier that gathers start-time proposals.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrInvalidExpected is returned when a barrier is created for fewer than one federate.
	ErrInvalidExpected = errors.New("barrier needs at least one federate")

	// ErrBarrierFull is returned when more proposals arrive than were expected.
	ErrBarrierFull = errors.New("barrier already has all expected proposals")

	// ErrBarrierAborted is returned to every waiter of a barrier that was
	// aborted before it released.
	ErrBarrierAborted = errors.New("barrier aborted")
)

// Barrier collects one start-time proposal from each of a fixed number of
// federates and releases all of them together with the largest proposal.
// A Barrier is one-shot: it either releases exactly once or is aborted.
// Thread-safe: All methods are safe for concurrent access.
type Barrier struct {
	cond     *sync.Cond
	err      error // Set when aborted; never set after release
	mu       sync.Mutex
	expected int   // Number of proposals needed to release
	arrived  int   // Proposals received so far
	max      int64 // Largest proposal so far, frozen on release
	released bool
}

// BarrierSnapshot is a point-in-time copy of a barrier's state.
// Max is only meaningful once Arrived > 0; before that it holds math.MinInt64.
type BarrierSnapshot struct {
	Err      error
	Expected int
	Arrived  int
	Max      int64
	Released bool
	Aborted  bool
}

// NewBarrier creates a barrier that releases once expected proposals arrive.
//
// Parameters:
//   - expected: Number of federates to synchronize (must be >= 1)
//
// Returns:
//   - *Barrier: Barrier with no proposals
//   - error: ErrInvalidExpected if expected < 1
//
// Example:
//
//	b, err := NewBarrier(3)
//	if err != nil {
//	    return err
//	}
//	start := b.ProposeAndWait(time.Now().UnixNano())
func NewBarrier(expected int) (*Barrier, error) {
	if expected < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidExpected, expected)
	}
	b := &Barrier{
		expected: expected,
		max:      math.MinInt64,
	}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// ProposeAndWait registers instant and blocks until every expected federate
// has proposed, then returns the largest proposal. There is no timeout: if
// fewer than the expected number of federates ever propose, it never returns.
// It panics if called on an aborted or already full barrier, so it suits
// callers that own the barrier outright, such as tests and single-process
// tools. The connection handler always goes through ProposeAndWaitContext.
func (b *Barrier) ProposeAndWait(instant int64) int64 {
	start, err := b.ProposeAndWaitContext(context.Background(), instant)
	if err != nil {
		panic(err)
	}
	return start
}

// ProposeAndWaitContext is ProposeAndWait with cancellation. If ctx is done
// before the barrier releases, the whole barrier is aborted: every waiter,
// this one included, gets an error wrapping ErrBarrierAborted and the
// barrier will never release.
//
// Parameters:
//   - ctx: Bounds the wait; use context.Background() to wait forever
//   - instant: This federate's proposed start time
//
// Returns:
//   - int64: The agreed start time, identical for every caller
//   - error: ErrBarrierFull, or ErrBarrierAborted wrapping the cause
func (b *Barrier) ProposeAndWaitContext(ctx context.Context, instant int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return 0, b.err
	}
	if b.arrived >= b.expected {
		return 0, ErrBarrierFull
	}

	b.arrived++
	if instant > b.max {
		b.max = instant
	}

	if b.arrived == b.expected {
		// Last arrival releases everyone.
		b.released = true
		b.cond.Broadcast()
		return b.max, nil
	}

	stop := context.AfterFunc(ctx, func() {
		b.Abort(fmt.Errorf("waiting for %d federates: %w", b.expected, context.Cause(ctx)))
	})
	defer stop()

	for !b.released && b.err == nil {
		b.cond.Wait()
	}
	if b.err != nil {
		return 0, b.err
	}
	return b.max, nil
}

// Abort fails the barrier with cause and wakes every waiter. It has no effect
// once the barrier has released or was already aborted.
//
// Returns:
//   - bool: true if this call aborted the barrier
func (b *Barrier) Abort(cause error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released || b.err != nil {
		return false
	}
	if cause == nil {
		b.err = ErrBarrierAborted
	} else {
		b.err = fmt.Errorf("%w: %w", ErrBarrierAborted, cause)
	}
	b.cond.Broadcast()
	return true
}

// Snapshot returns a copy of the barrier's current state.
func (b *Barrier) Snapshot() BarrierSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BarrierSnapshot{
		Expected: b.expected,
		Arrived:  b.arrived,
		Max:      b.max,
		Released: b.released,
		Aborted:  b.err != nil,
		Err:      b.err,
	}
}

// Released reports whether the barrier has released.
func (b *Barrier) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}
