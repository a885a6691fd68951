// Package main implements the start-time coordinator. It waits for a fixed
// number of federates to propose a start time and answers every one of them
// with the largest proposal.
//
// Configuration:
//   - COORDINATOR_ADDR: Federate listen address (default: ":55001")
//   - FEDERATES: Number of federates to wait for (default: 2)
//   - STRICT_TAGS: Reject proposals with a wrong tag (default: true)
//   - ABORT_ON_DEPARTURE: Fail the run when a federate leaves early (default: false)
//   - ACCEPT_TIMEOUT: Bound on waiting for federates to connect, e.g. "30s" (default: none)
//   - BARRIER_TIMEOUT: Bound on waiting for all proposals (default: none)
//   - STATUS_ADDR: Optional HTTP status listen address, e.g. ":8080"
//
// Tag checking is strict by default: a proposal whose tag is not TIMESTAMP
// is rejected and only that federate's connection is closed. Set
// STRICT_TAGS=false to log a warning and use the proposed instant anyway.
//
// Example usage:
//
//	FEDERATES=3 STATUS_ADDR=:8080 ./coordinator
//	curl localhost:8080/status
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/rti/internal/coordinator"
)

// logFatal is a variable to allow mocking log.Fatalf in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	srv, err := coordinator.NewServer(cfg)
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var statusSrv *http.Server
	if addr := os.Getenv("STATUS_ADDR"); addr != "" {
		statusSrv = &http.Server{
			Addr:              addr,
			Handler:           newStatusServer(srv).routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("status listening on %s", addr)
			if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("status server: %v", err)
			}
		}()
	}

	start, err := srv.Run(ctx)

	if statusSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = statusSrv.Shutdown(shutdownCtx)
	}
	if err != nil {
		logFatal("coordination failed: %v", err)
		return
	}
	fmt.Println(start)
	log.Println("coordinator stopped")
}

// loadConfig builds the run configuration from the environment, starting
// from coordinator.DefaultConfig.
func loadConfig() (coordinator.Config, error) {
	cfg := coordinator.DefaultConfig()
	cfg.ListenAddr = getenv("COORDINATOR_ADDR", cfg.ListenAddr)

	var err error
	if cfg.Federates, err = getenvInt("FEDERATES", cfg.Federates); err != nil {
		return cfg, err
	}
	if cfg.StrictTags, err = getenvBool("STRICT_TAGS", cfg.StrictTags); err != nil {
		return cfg, err
	}
	if cfg.AbortOnDeparture, err = getenvBool("ABORT_ON_DEPARTURE", cfg.AbortOnDeparture); err != nil {
		return cfg, err
	}
	if cfg.AcceptTimeout, err = getenvDuration("ACCEPT_TIMEOUT", cfg.AcceptTimeout); err != nil {
		return cfg, err
	}
	if cfg.BarrierTimeout, err = getenvDuration("BARRIER_TIMEOUT", cfg.BarrierTimeout); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getenvBool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return b, nil
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}
