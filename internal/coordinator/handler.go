// Package coordinator provides the start-time coordination server.
// This file implements the per-federate connection handler.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/dreamware/rti/internal/cluster"
)

var (
	// ErrTransport marks read, write and accept failures. They end the whole run.
	ErrTransport = errors.New("transport failure")

	// ErrPeerDisconnected is returned when a federate hangs up before sending
	// a complete proposal.
	ErrPeerDisconnected = cluster.ErrPeerDisconnected

	// ErrProtocolViolation is matched by *ProtocolError.
	ErrProtocolViolation = cluster.ErrProtocolViolation
)

// ProtocolError reports a proposal that carried the wrong tag.
type ProtocolError struct {
	Federate int
	Got      cluster.MessageType
	Instant  int64
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("federate %d: expected %s message, got %s", e.Federate, cluster.MsgTimestamp, e.Got)
}

func (e *ProtocolError) Unwrap() error { return cluster.ErrProtocolViolation }

// Handler runs the proposal/response exchange for one federate connection.
// One Handler is shared by all connections of a run; the connection itself is
// owned by the goroutine calling Serve.
type Handler struct {
	barrier *Barrier
	tracker *Tracker
	cfg     Config
}

// NewHandler creates a handler that registers proposals with barrier and
// records federate states in tracker.
func NewHandler(cfg Config, barrier *Barrier, tracker *Tracker) *Handler {
	return &Handler{cfg: cfg, barrier: barrier, tracker: tracker}
}

// Serve reads one proposal from conn, waits on the barrier, writes the agreed
// start time back and closes conn. A proposal is registered with the barrier
// only if a complete, acceptable frame was read.
//
// Parameters:
//   - ctx: Cancelling it closes conn and aborts the barrier wait
//   - id: Accept-order index of the federate, used in logs and status
//   - conn: The federate connection; always closed on return
//
// Returns:
//   - error: nil once the start time was written, otherwise one of
//     ErrPeerDisconnected, ErrProtocolViolation, ErrBarrierAborted or ErrTransport
//
// Implementation:
//  1. Read 9 bytes, accumulating short reads
//  2. Check the tag (rejected when StrictTags, else warned about)
//  3. Propose and block until the barrier releases or fails
//  4. Write the agreed start time
func (h *Handler) Serve(ctx context.Context, id int, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	msg, err := cluster.ReadMessage(conn)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("federate %d: %w", id, context.Cause(ctx))
			h.tracker.Ended(id, FederateFailed, err)
			return err
		case errors.Is(err, ErrPeerDisconnected):
			h.depart(id, FederateDeparted, err)
			return fmt.Errorf("federate %d: %w", id, err)
		default:
			err = fmt.Errorf("%w: federate %d: %w", ErrTransport, id, err)
			h.tracker.Ended(id, FederateFailed, err)
			return err
		}
	}

	if msg.Type != cluster.MsgTimestamp {
		perr := &ProtocolError{Federate: id, Got: msg.Type, Instant: msg.Instant}
		if h.cfg.StrictTags {
			h.depart(id, FederateRejected, perr)
			return perr
		}
		log.Printf("warning: %v; using instant %d anyway", perr, msg.Instant)
	}

	h.tracker.Proposed(id, msg.Instant)

	waitCtx := ctx
	if h.cfg.BarrierTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.cfg.BarrierTimeout)
		defer cancel()
	}
	start, err := h.barrier.ProposeAndWaitContext(waitCtx, msg.Instant)
	if err != nil {
		err = fmt.Errorf("federate %d: %w", id, err)
		h.tracker.Ended(id, FederateFailed, err)
		return err
	}

	if err := cluster.WriteMessage(conn, cluster.Message{Type: cluster.MsgTimestamp, Instant: start}); err != nil {
		err = fmt.Errorf("%w: federate %d: %w", ErrTransport, id, err)
		h.tracker.Ended(id, FederateFailed, err)
		return err
	}
	h.tracker.Released(id)
	return nil
}

// depart records a federate that left without a usable proposal and, when
// configured, fails the barrier so the others are not left waiting.
func (h *Handler) depart(id int, state FederateState, err error) {
	h.tracker.Ended(id, state, err)
	if h.cfg.AbortOnDeparture {
		h.barrier.Abort(fmt.Errorf("federate %d %s: %w", id, state, err))
	}
}
