package cluster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"
)

var dialer = &net.Dialer{Timeout: 5 * time.Second}

// Propose connects to the coordinator at addr, proposes instant as this
// federate's start time and blocks until the coordinator answers with the
// agreed start time. Cancelling ctx closes the connection.
func Propose(ctx context.Context, addr string, instant int64) (int64, error) {
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := WriteMessage(conn, Message{Type: MsgTimestamp, Instant: instant}); err != nil {
		return 0, err
	}
	resp, err := ReadMessage(conn)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}
	if resp.Type != MsgTimestamp {
		return 0, fmt.Errorf("%w: coordinator replied with %s", ErrProtocolViolation, resp.Type)
	}
	return resp.Instant, nil
}

// ProposeWithRetry calls Propose, retrying while the coordinator cannot be
// dialed. Errors after a connection was made are not retried since the
// coordinator may already have counted the proposal.
func ProposeWithRetry(ctx context.Context, addr string, instant int64, attempts int, delay time.Duration) (int64, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		start, err := Propose(ctx, addr, instant)
		if err == nil {
			return start, nil
		}
		lastErr = err
		var opErr *net.OpError
		if !errors.As(err, &opErr) || opErr.Op != "dial" {
			return 0, err
		}
		log.Printf("propose retry %d: %v", i+1, err)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return 0, fmt.Errorf("coordinator %s unreachable after %d attempts: %w", addr, attempts, lastErr)
}
