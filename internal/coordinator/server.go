// Package coordinator provides the start-time coordination server.
// This file implements the listener, the dispatcher and the run lifecycle.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config fixes the parameters of one coordination run.
type Config struct {
	ListenAddr string // TCP address to listen on, e.g. ":55001"
	Federates  int    // Number of federates to synchronize

	// StrictTags rejects proposals with an unexpected tag and drops that
	// connection. When false the tag is only warned about and the instant is used.
	StrictTags bool

	// AbortOnDeparture fails the barrier as soon as a federate disconnects
	// early or is rejected, instead of leaving the others waiting.
	AbortOnDeparture bool

	AcceptTimeout  time.Duration // Bound on waiting for all federates to connect; 0 waits forever
	BarrierTimeout time.Duration // Bound on each federate's barrier wait; 0 waits forever
}

// DefaultConfig returns the configuration used when nothing is overridden:
// two federates on port 55001 with strict tag checking and no timeouts.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":55001",
		Federates:  2,
		StrictTags: true,
	}
}

// Validate checks that cfg describes a runnable configuration.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.Federates < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidExpected, c.Federates)
	}
	if c.AcceptTimeout < 0 || c.BarrierTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// Server accepts a fixed number of federate connections, runs one Handler
// per connection and reports the agreed start time once all have finished.
// A Server performs a single run.
type Server struct {
	barrier  *Barrier
	tracker  *Tracker
	handler  *Handler
	listener net.Listener
	cfg      Config
	mu       sync.Mutex
}

// NewServer creates a server for one run described by cfg.
//
// Parameters:
//   - cfg: Run configuration, checked with Validate
//
// Returns:
//   - *Server: Server ready to Listen
//   - error: Validation error
//
// Example:
//
//	srv, err := NewServer(DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	start, err := srv.Run(ctx)
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	barrier, err := NewBarrier(cfg.Federates)
	if err != nil {
		return nil, err
	}
	tracker := NewTracker()
	return &Server{
		cfg:     cfg,
		barrier: barrier,
		tracker: tracker,
		handler: NewHandler(cfg, barrier, tracker),
	}, nil
}

// Barrier returns the run's barrier.
func (s *Server) Barrier() *Barrier { return s.barrier }

// Tracker returns the run's federate tracker.
func (s *Server) Tracker() *Tracker { return s.tracker }

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %w", ErrTransport, s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run binds the configured address and serves one run on it.
func (s *Server) Run(ctx context.Context) (int64, error) {
	if err := s.Listen(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	return s.Serve(ctx, ln)
}

// Serve accepts exactly cfg.Federates connections on ln, handling each in
// its own goroutine, then closes ln and waits for every handler to finish.
//
// Returns:
//   - int64: The agreed start time sent to every federate
//   - error: The first fatal error, or the reason the barrier never released
//
// Early disconnects and rejected proposals are logged and recorded but do not
// fail the run on their own. Unless AbortOnDeparture or a timeout is set the
// remaining federates then wait forever, and so does Serve. With
// AbortOnDeparture the run fails at once, even while still accepting.
func (s *Server) Serve(ctx context.Context, ln net.Listener) (int64, error) {
	g, gctx := errgroup.WithContext(ctx)

	closeListener := sync.OnceFunc(func() { ln.Close() })
	defer closeListener()
	stop := context.AfterFunc(gctx, closeListener)
	defer stop()

	if s.cfg.AcceptTimeout > 0 {
		if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
			if err := dl.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout)); err != nil {
				return 0, fmt.Errorf("%w: set accept deadline: %w", ErrTransport, err)
			}
		}
	}

	log.Printf("coordinator listening on %s for %d federates", ln.Addr(), s.cfg.Federates)

	var acceptErr error
	for i := 0; i < s.cfg.Federates; i++ {
		conn, err := ln.Accept()
		if err != nil {
			if gctx.Err() != nil {
				acceptErr = fmt.Errorf("accepted %d of %d federates: %w", i, s.cfg.Federates, context.Cause(gctx))
			} else {
				acceptErr = fmt.Errorf("%w: accepted %d of %d federates: %w", ErrTransport, i, s.cfg.Federates, err)
			}
			s.barrier.Abort(acceptErr)
			break
		}
		id := i
		s.tracker.Connected(id, conn.RemoteAddr().String())
		log.Printf("federate %d connected from %s", id, conn.RemoteAddr())
		g.Go(func() error {
			err := s.handler.Serve(gctx, id, conn)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, ErrBarrierAborted):
				return err
			case errors.Is(err, ErrPeerDisconnected), errors.Is(err, ErrProtocolViolation):
				// Already recorded by the handler. The departure only ends the
				// run when it aborted the barrier; that also stops the accept loop.
				if s.cfg.AbortOnDeparture {
					if aborted := s.barrier.Snapshot().Err; aborted != nil {
						return aborted
					}
				}
				return nil
			default:
				return err
			}
		})
	}
	closeListener()

	waitErr := g.Wait()
	if acceptErr != nil {
		return 0, acceptErr
	}
	if waitErr != nil {
		return 0, waitErr
	}

	snap := s.barrier.Snapshot()
	if !snap.Released {
		if snap.Err != nil {
			return 0, snap.Err
		}
		return 0, fmt.Errorf("%w: %d of %d federates proposed", ErrBarrierAborted, snap.Arrived, snap.Expected)
	}
	log.Printf("agreed start time %d sent to %d federates", snap.Max, s.tracker.Count(FederateReleased))
	return snap.Max, nil
}
