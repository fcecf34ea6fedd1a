// Package supervisor bounds connection attempts made by application code.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
)

// ErrMaxRetries is returned once the attempt budget is spent. It is fatal
// for the session until Reset is called.
var ErrMaxRetries = errors.New("max retries exceeded")

// Connector is the part of connector.Connector the supervisor drives.
type Connector interface {
	IsConnected() bool
	AutoConnect(ctx context.Context) error
}

// Options tunes the retry budget.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Supervisor makes one connection attempt per EnsureConnection call and
// applies a linear backoff after each failure. Looping is left to the caller.
type Supervisor struct {
	conn    Connector
	opts    Options
	logger  *log.Logger
	group   singleflight.Group
	sleep   func(ctx context.Context, d time.Duration) error
	mu      sync.Mutex
	attempt int
}

// New creates a supervisor around conn.
func New(conn Connector, opts Options) *Supervisor {
	logger := log.New(os.Stdout, "[SUPERVISOR] ", log.LstdFlags|log.Lmsgprefix)
	return NewWithLogger(conn, opts, logger)
}

// NewWithLogger creates a supervisor with a custom logger.
func NewWithLogger(conn Connector, opts Options, logger *log.Logger) *Supervisor {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	return &Supervisor{
		conn:   conn,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureConnection returns at once when connected, clearing any failed
// attempts counted while the connection was down. Otherwise it makes one
// AutoConnect attempt; on failure it waits attempt x BaseDelay before
// returning the error. Concurrent callers share the same attempt, run with
// the first caller's context.
func (s *Supervisor) EnsureConnection(ctx context.Context) error {
	if s.conn.IsConnected() {
		s.Reset()
		return nil
	}
	_, err, _ := s.group.Do("connect", func() (interface{}, error) {
		return nil, s.attemptOnce(ctx)
	})
	return err
}

func (s *Supervisor) attemptOnce(ctx context.Context) error {
	if s.conn.IsConnected() {
		s.Reset()
		return nil
	}

	s.mu.Lock()
	if s.attempt >= s.opts.MaxRetries {
		n := s.attempt
		s.mu.Unlock()
		s.logger.Printf("Giving up after %d attempts", n)
		return fmt.Errorf("%w (%d attempts)", ErrMaxRetries, n)
	}
	s.attempt++
	n := s.attempt
	s.mu.Unlock()

	s.logger.Printf("Connection attempt %d/%d", n, s.opts.MaxRetries)
	err := s.conn.AutoConnect(ctx)
	if err == nil {
		s.mu.Lock()
		s.attempt = 0
		s.mu.Unlock()
		s.logger.Println("Printer connected")
		return nil
	}

	delay := time.Duration(n) * s.opts.BaseDelay
	s.logger.Printf("Attempt %d failed: %v; backing off %v", n, err, delay)
	if serr := s.sleep(ctx, delay); serr != nil {
		return fmt.Errorf("attempt %d/%d: %w", n, s.opts.MaxRetries, serr)
	}
	return fmt.Errorf("attempt %d/%d: %w", n, s.opts.MaxRetries, err)
}

// Attempts returns the number of consecutive failed attempts.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Reset clears the attempt counter.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.attempt = 0
	s.mu.Unlock()
}
