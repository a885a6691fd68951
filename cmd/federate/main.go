// Package main implements a minimal federate: it proposes a start time to the
// coordinator, waits for the agreed start time and prints it.
//
// Configuration:
//   - COORDINATOR_ADDR: Coordinator address (default: "127.0.0.1:55001")
//   - START_TIME: Proposed start time in nanoseconds since the Unix epoch
//     (default: the current time)
//   - DIAL_ATTEMPTS: Connection attempts before giving up (default: 10)
//   - WAIT_FOR_START: Sleep until the agreed start time passes before exiting (default: false)
//
// Example usage:
//
//	COORDINATOR_ADDR=rti.local:55001 ./federate
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/rti/internal/cluster"
)

// logFatal is a variable to allow mocking log.Fatalf in tests.
var logFatal = log.Fatalf

// now is replaced in tests.
var now = time.Now

func main() {
	coord := getenv("COORDINATOR_ADDR", "127.0.0.1:55001")
	proposal, err := startTime(os.Getenv("START_TIME"))
	if err != nil {
		logFatal("START_TIME: %v", err)
		return
	}
	attempts, err := strconv.Atoi(getenv("DIAL_ATTEMPTS", "10"))
	if err != nil || attempts < 1 {
		logFatal("DIAL_ATTEMPTS must be a positive integer")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("proposing start time %d to %s", proposal, coord)
	start, err := cluster.ProposeWithRetry(ctx, coord, proposal, attempts, 400*time.Millisecond)
	if err != nil {
		logFatal("start time negotiation failed: %v", err)
		return
	}
	log.Printf("agreed start time %d (proposed %d, delayed %v)", start, proposal, time.Duration(start-proposal))
	fmt.Println(start)

	if getenv("WAIT_FOR_START", "false") == "true" {
		waitUntil(ctx, start)
	}
}

// startTime parses a proposed start time, defaulting to the current time.
func startTime(v string) (int64, error) {
	if v == "" {
		return now().UnixNano(), nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// waitUntil blocks until the wall clock reaches instant (nanoseconds since
// the Unix epoch) or ctx is done.
func waitUntil(ctx context.Context, instant int64) {
	d := time.Until(time.Unix(0, instant))
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
