// Package cluster defines the wire protocol spoken between federates and the
// start-time coordinator, and the federate-side client for it.
//
// # Overview
//
// Before a federation starts executing, every federate proposes a logical
// start instant to the coordinator. The coordinator waits until all expected
// federates have proposed and replies to each one with the largest proposal,
// so that every federate begins from the same instant.
//
// # Wire Format
//
// Every frame is exactly 9 bytes, in both directions:
//
//	┌─────────┬─────────────────────────────────────────┐
//	│ tag (1) │ instant (8, big-endian, signed int64)  │
//	└─────────┴─────────────────────────────────────────┘
//
// The tag is MsgTimestamp for the proposal and for the reply. There is no
// length prefix and no version byte; a variable-length payload would need a
// new framing scheme.
//
// # Reading Frames
//
// TCP may deliver a frame in several pieces. ReadMessage keeps reading until
// all 9 bytes have arrived. If the peer closes the connection first it returns
// ErrPeerDisconnected, which lets the coordinator tell a federate that left
// early apart from a transport failure.
//
// # Client
//
// Propose and ProposeWithRetry implement the federate side of the exchange:
//
//	start, err := cluster.ProposeWithRetry(ctx, "127.0.0.1:55001",
//	    time.Now().UnixNano(), 10, 400*time.Millisecond)
//	if err != nil {
//	    log.Fatalf("start time: %v", err)
//	}
//
// Only dial failures are retried. Once a proposal has reached the coordinator
// it may already have been counted, so later failures are returned as-is.
//
// # Security
//
// The channel is neither authenticated nor encrypted.
package cluster
