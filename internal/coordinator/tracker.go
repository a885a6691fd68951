// Package coordinator provides the start-time coordination server.
// This file implements per-federate bookkeeping for status reporting.
package coordinator

import (
	"cmp"
	"log"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// FederateState is the lifecycle stage of one federate connection.
type FederateState string

const (
	// FederateConnected means the connection was accepted and no proposal has arrived yet.
	FederateConnected FederateState = "connected"
	// FederateProposed means the proposal was registered and the federate is waiting on the barrier.
	FederateProposed FederateState = "proposed"
	// FederateReleased means the agreed start time was sent.
	FederateReleased FederateState = "released"
	// FederateDeparted means the federate closed its connection before a full proposal arrived.
	FederateDeparted FederateState = "departed"
	// FederateRejected means the federate broke the protocol and was dropped.
	FederateRejected FederateState = "rejected"
	// FederateFailed means a transport error or an aborted barrier ended the exchange.
	FederateFailed FederateState = "failed"
)

// FederateStatus tracks one federate connection.
// Thread-safe: Protected by Tracker's mutex when accessed.
type FederateStatus struct {
	ConnectedAt time.Time     `json:"connected_at"` // When the connection was accepted
	UpdatedAt   time.Time     `json:"updated_at"`   // Last state change
	Addr        string        `json:"addr"`         // Remote address
	State       FederateState `json:"state"`
	Error       string        `json:"error,omitempty"`
	ID          int           `json:"id"`      // Accept order, starting at 0
	Instant     int64         `json:"instant"` // Proposed start time, once known
}

// Tracker records the state of every federate connection accepted during a run.
// Thread-safe: All methods are safe for concurrent access.
type Tracker struct {
	federates map[int]*FederateStatus
	now       func() time.Time
	mu        sync.RWMutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		federates: make(map[int]*FederateStatus),
		now:       time.Now,
	}
}

// Connected records a newly accepted connection.
func (t *Tracker) Connected(id int, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.federates[id] = &FederateStatus{
		ID:          id,
		Addr:        addr,
		State:       FederateConnected,
		ConnectedAt: now,
		UpdatedAt:   now,
	}
}

// Proposed records the federate's proposal.
func (t *Tracker) Proposed(id int, instant int64) {
	t.update(id, func(f *FederateStatus) {
		f.State = FederateProposed
		f.Instant = instant
	})
}

// Released records that the agreed start time was delivered.
func (t *Tracker) Released(id int) {
	t.update(id, func(f *FederateStatus) {
		f.State = FederateReleased
	})
}

// Ended records a terminal failure state and its cause.
func (t *Tracker) Ended(id int, state FederateState, err error) {
	t.update(id, func(f *FederateStatus) {
		f.State = state
		if err != nil {
			f.Error = err.Error()
		}
	})
	log.Printf("federate %d %s: %v", id, state, err)
}

func (t *Tracker) update(id int, fn func(f *FederateStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.federates[id]
	if !ok {
		return
	}
	fn(f)
	f.UpdatedAt = t.now()
}

// Get returns a copy of one federate's status, or nil if unknown.
func (t *Tracker) Get(id int) *FederateStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	f, ok := t.federates[id]
	if !ok {
		return nil
	}
	c := *f
	return &c
}

// List returns copies of all federate statuses ordered by accept order.
func (t *Tracker) List() []FederateStatus {
	t.mu.RLock()
	out := make([]FederateStatus, 0, len(t.federates))
	for _, f := range t.federates {
		out = append(out, *f)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b FederateStatus) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Count returns how many federates are in state.
func (t *Tracker) Count(state FederateState) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, f := range t.federates {
		if f.State == state {
			n++
		}
	}
	return n
}
