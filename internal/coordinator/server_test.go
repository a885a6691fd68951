// Package coordinator provides the start-time coordination server.
// This file contains tests for the listener, dispatcher and run lifecycle.
package coordinator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/rti/internal/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runResult struct {
	start int64
	err   error
}

// startServer binds a loopback server for cfg and serves it in the background.
func startServer(t *testing.T, ctx context.Context, cfg Config) (*Server, string, <-chan runResult) {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	done := make(chan runResult, 1)
	go func() {
		start, err := srv.Serve(ctx, srv.listener)
		done <- runResult{start: start, err: err}
	}()
	return srv, srv.Addr().String(), done
}

func sendFrame(t *testing.T, addr string, frame []byte) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)
	return conn
}

func waitResult(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish")
		return runResult{}
	}
}

// TestConfigValidate tests configuration checks.
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "no address", mutate: func(c *Config) { c.ListenAddr = "" }, wantErr: true},
		{name: "zero federates", mutate: func(c *Config) { c.Federates = 0 }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.BarrierTimeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestDefaultConfig pins the defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":55001", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.Federates)
	assert.True(t, cfg.StrictTags)
	assert.False(t, cfg.AbortOnDeparture)
	assert.Zero(t, cfg.AcceptTimeout)
	assert.Zero(t, cfg.BarrierTimeout)
}

// TestServerAgreesOnMaximum covers scenarios with all federates behaving.
func TestServerAgreesOnMaximum(t *testing.T) {
	tests := []struct {
		name     string
		instants []int64
		want     int64
	}{
		{name: "two federates", instants: []int64{100, 200}, want: 200},
		{name: "three equal", instants: []int64{50, 50, 50}, want: 50},
		{name: "one federate", instants: []int64{12}, want: 12},
		{name: "five federates", instants: []int64{3, 9, 1, 7, 5}, want: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Federates = len(tt.instants)
			srv, addr, done := startServer(t, context.Background(), cfg)

			results := make([]int64, len(tt.instants))
			errs := make([]error, len(tt.instants))
			var wg sync.WaitGroup
			for i, v := range tt.instants {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[i], errs[i] = cluster.Propose(context.Background(), addr, v)
				}()
			}
			wg.Wait()

			for i := range tt.instants {
				require.NoError(t, errs[i])
				assert.Equal(t, tt.want, results[i])
			}
			r := waitResult(t, done)
			require.NoError(t, r.err)
			assert.Equal(t, tt.want, r.start)
			assert.Equal(t, len(tt.instants), srv.Tracker().Count(FederateReleased))
		})
	}
}

// TestServerStopsAcceptingAfterN verifies the listener is closed once all
// federates have connected.
func TestServerStopsAcceptingAfterN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Federates = 1
	_, addr, done := startServer(t, context.Background(), cfg)

	start, err := cluster.Propose(context.Background(), addr, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), start)
	require.NoError(t, waitResult(t, done).err)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

// TestServerPermissiveMalformedTag: a federate with a foreign tag still
// contributes its instant when strict checking is off.
func TestServerPermissiveMalformedTag(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictTags = false
	_, addr, done := startServer(t, context.Background(), cfg)

	bad := sendFrame(t, addr, cluster.EncodeMessage(cluster.Message{Type: 7, Instant: 300}))
	defer bad.Close()

	start, err := cluster.Propose(context.Background(), addr, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(300), start)

	resp, err := cluster.ReadMessage(bad)
	require.NoError(t, err)
	assert.Equal(t, int64(300), resp.Instant)

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, int64(300), r.start)
}

// TestServerStrictMalformedTag: the offending connection is dropped and, with
// AbortOnDeparture, the remaining federate is told instead of hanging.
func TestServerStrictMalformedTag(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AbortOnDeparture = true
	srv, addr, done := startServer(t, context.Background(), cfg)

	bad := sendFrame(t, addr, cluster.EncodeMessage(cluster.Message{Type: 7, Instant: 300}))
	defer bad.Close()

	_, err := cluster.Propose(context.Background(), addr, 150)
	assert.ErrorIs(t, err, cluster.ErrPeerDisconnected)

	_, err = cluster.ReadMessage(bad)
	assert.Error(t, err, "rejected connection must be closed without a reply")

	r := waitResult(t, done)
	assert.ErrorIs(t, r.err, ErrBarrierAborted)
	assert.Equal(t, 1, srv.Tracker().Count(FederateRejected))
	assert.False(t, srv.Barrier().Released())
}

// TestServerEarlyDisconnectHangs documents that without a timeout a federate
// leaving mid-handshake leaves the others waiting.
func TestServerEarlyDisconnectHangs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := DefaultConfig()
	srv, addr, done := startServer(t, ctx, cfg)

	short := sendFrame(t, addr, cluster.EncodeResponse(1)[:5])
	short.Close()

	proposed := make(chan error, 1)
	go func() {
		_, err := cluster.Propose(ctx, addr, 150)
		proposed <- err
	}()

	select {
	case err := <-proposed:
		t.Fatalf("remaining federate was released: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	assert.False(t, srv.Barrier().Released())
	assert.Equal(t, 1, srv.Barrier().Snapshot().Arrived)
	assert.Equal(t, 1, srv.Tracker().Count(FederateDeparted))

	// Cancelling the run is the only way out.
	cancel()
	r := waitResult(t, done)
	assert.ErrorIs(t, r.err, ErrBarrierAborted)
	assert.Error(t, <-proposed)
}

// TestServerEarlyDisconnectAborts verifies AbortOnDeparture reports the departure.
func TestServerEarlyDisconnectAborts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AbortOnDeparture = true
	_, addr, done := startServer(t, context.Background(), cfg)

	short := sendFrame(t, addr, cluster.EncodeResponse(1)[:5])
	short.Close()

	_, err := cluster.Propose(context.Background(), addr, 150)
	assert.Error(t, err)

	r := waitResult(t, done)
	assert.ErrorIs(t, r.err, ErrBarrierAborted)
	assert.ErrorIs(t, r.err, ErrPeerDisconnected)
}

// TestServerDepartureBeforeAllConnected verifies AbortOnDeparture ends the
// run even when the remaining federates have not connected yet.
func TestServerDepartureBeforeAllConnected(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		cause error
		state FederateState
	}{
		{
			name:  "short frame then hang up",
			frame: cluster.EncodeResponse(1)[:5],
			cause: ErrPeerDisconnected,
			state: FederateDeparted,
		},
		{
			name:  "wrong tag",
			frame: cluster.EncodeMessage(cluster.Message{Type: 7, Instant: 300}),
			cause: ErrProtocolViolation,
			state: FederateRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AbortOnDeparture = true
			srv, addr, done := startServer(t, context.Background(), cfg)

			conn := sendFrame(t, addr, tt.frame)
			conn.Close()

			r := waitResult(t, done)
			assert.ErrorIs(t, r.err, ErrBarrierAborted)
			assert.ErrorIs(t, r.err, tt.cause)
			assert.Contains(t, r.err.Error(), "accepted 1 of 2 federates")
			assert.Equal(t, 1, srv.Tracker().Count(tt.state))

			_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
			assert.Error(t, err, "listener must be closed after the abort")
		})
	}
}

// TestServerAcceptTimeout verifies a missing federate fails the run when an
// accept timeout is set.
func TestServerAcceptTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AcceptTimeout = 200 * time.Millisecond
	_, addr, done := startServer(t, context.Background(), cfg)

	proposed := make(chan error, 1)
	go func() {
		_, err := cluster.Propose(context.Background(), addr, 150)
		proposed <- err
	}()

	r := waitResult(t, done)
	assert.ErrorIs(t, r.err, ErrTransport)
	assert.Contains(t, r.err.Error(), "accepted 1 of 2 federates")

	select {
	case err := <-proposed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connected federate was not released from the aborted barrier")
	}
}

// TestServerBarrierTimeout verifies a bounded barrier wait fails the run.
func TestServerBarrierTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BarrierTimeout = 100 * time.Millisecond
	_, addr, done := startServer(t, context.Background(), cfg)

	short := sendFrame(t, addr, nil)
	defer short.Close()

	_, err := cluster.Propose(context.Background(), addr, 150)
	assert.Error(t, err)

	r := waitResult(t, done)
	assert.ErrorIs(t, r.err, ErrBarrierAborted)
	assert.ErrorIs(t, r.err, context.DeadlineExceeded)
}

// TestServerContextCancelWhileAccepting verifies cancellation stops the accept loop.
func TestServerContextCancelWhileAccepting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, _, done := startServer(t, ctx, DefaultConfig())

	cancel()
	r := waitResult(t, done)
	assert.ErrorIs(t, r.err, context.Canceled)
}

// TestServerRunListenFailure verifies a bind error is a transport error.
func TestServerRunListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultConfig()
	cfg.ListenAddr = ln.Addr().String()
	srv, err := NewServer(cfg)
	require.NoError(t, err)

	_, err = srv.Run(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Nil(t, srv.Addr())
}

// TestNewServerRejectsBadConfig verifies validation happens at construction.
func TestNewServerRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Federates = 0
	_, err := NewServer(cfg)
	assert.ErrorIs(t, err, ErrInvalidExpected)
}
