// Package coordinator implements the start-time coordinator for a federation:
// a server that waits for a fixed number of federates to propose a start
// time, picks the largest proposal and sends it back to every federate so
// they all begin executing from the same logical instant.
//
// # Overview
//
// A run of the coordinator is a single barrier episode. Nothing is persisted
// and nothing happens after the agreed start time has been delivered; steady
// state message routing between federates is out of scope.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            Server (Serve)           │
//	│  accept N connections, join all     │
//	└──────┬──────────────┬───────────────┘
//	       │              │
//	┌──────▼─────┐  ┌─────▼──────┐
//	│ Handler 0  │  │ Handler 1  │ ...  one goroutine per federate
//	└──────┬─────┘  └─────┬──────┘
//	       │              │
//	┌──────▼──────────────▼───────────────┐
//	│               Barrier               │
//	│  expected, arrived, max, released   │
//	└─────────────────────────────────────┘
//
// # Core Components
//
// Barrier: The only state shared between handlers
//   - Counts proposals and keeps the running maximum under one mutex
//   - The last arrival broadcasts on a condition variable and every waiter
//     re-checks the release predicate after each wake-up
//   - Once released the maximum is frozen; once aborted it never releases
//
// Handler: One proposal/response exchange
//   - Reads a 9-byte frame, tolerating short reads
//   - Registers a proposal only for a complete, acceptable frame
//   - Writes the agreed start time and closes the connection
//
// Server: Listener, dispatcher and join
//   - Accepts exactly Config.Federates connections, then stops listening
//   - Runs handlers in an errgroup so a fatal error cancels the others
//
// Tracker: Per-federate status for the coordinator's status endpoint.
//
// # Failure Handling
//
// Transport failures (listen, accept, read, write) end the run with an
// error wrapping ErrTransport.
//
// A proposal with the wrong tag is a *ProtocolError. With Config.StrictTags
// only that connection is dropped; otherwise a warning is logged and the
// instant is used as if the tag were right.
//
// A federate that hangs up before sending a full frame never registers a
// proposal. The barrier cannot learn that it is gone, so by default every
// other federate waits forever. Config.AbortOnDeparture turns this into a
// failed run, and Config.AcceptTimeout and Config.BarrierTimeout bound the
// two blocking phases. An aborted barrier fails every waiter with
// ErrBarrierAborted.
//
// # Example
//
//	cfg := coordinator.DefaultConfig()
//	cfg.Federates = 3
//	srv, err := coordinator.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	start, err := srv.Run(ctx)
//	if err != nil {
//	    log.Fatalf("coordination failed: %v", err)
//	}
//	log.Printf("federation starts at %d", start)
package coordinator
