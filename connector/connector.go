// Package connector negotiates a printer transport and runs print jobs on
// whichever transport won.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/nixxel-company-limited/receipt-bridge/adapter"
	"github.com/nixxel-company-limited/receipt-bridge/job"
)

var (
	// ErrNotConnected is returned when a job is created or executed
	// without an active transport.
	ErrNotConnected = errors.New("printer not connected")

	// ErrNoTransport is returned when every transport failed to connect.
	ErrNoTransport = errors.New("no printer transport could connect")
)

// Phase is the coarse connection state.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Failed
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// State is a snapshot of the connection. Kind is meaningful while Connecting
// or Connected, Printer while Connected and Reason while Failed.
type State struct {
	Phase   Phase
	Kind    adapter.Kind
	Printer string
	Reason  string
}

// Config holds the printer identity and the default job layout.
type Config struct {
	PrinterName string     `json:"printerName"`
	Job         job.Config `json:"job"`
}

// Status is the read-only view polled by the UI.
type Status struct {
	Connected      bool   `json:"connected"`
	ConnectionType string `json:"connectionType"`
	PrinterName    string `json:"printerName"`
	Config         Config `json:"config"`
}

// PrintResult reports a completed job.
type PrintResult struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Method  string `json:"method"`
}

// Connector owns at most one live transport at a time.
//
// opMu serializes AutoConnect, job execution and Disconnect, so a Disconnect
// waits for a running job to finish. stateMu only guards the state snapshot,
// so status reads never wait on I/O.
type Connector struct {
	registry *adapter.Registry
	config   Config
	logger   *log.Logger

	opMu   sync.Mutex
	active adapter.Transport

	stateMu sync.RWMutex
	state   State
}

// New creates a connector over the transports in registry.
func New(registry *adapter.Registry, config Config) *Connector {
	logger := log.New(os.Stdout, "[CONNECTOR] ", log.LstdFlags|log.Lmsgprefix)
	return NewWithLogger(registry, config, logger)
}

// NewWithLogger creates a connector with a custom logger.
func NewWithLogger(registry *adapter.Registry, config Config, logger *log.Logger) *Connector {
	config.Job = config.Job.Normalized()
	return &Connector{
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

func (c *Connector) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsConnected reports whether a transport is active.
func (c *Connector) IsConnected() bool {
	return c.State().Phase == Connected
}

// GetStatus returns the status record. It performs no I/O.
func (c *Connector) GetStatus() Status {
	s := c.State()
	st := Status{Config: c.config}
	if s.Phase == Connected {
		st.Connected = true
		st.ConnectionType = s.Kind.String()
		st.PrinterName = s.Printer
	}
	return st
}

// AutoConnect tries each registered transport in negotiation order and keeps
// the first one that connects. Unavailable transports are skipped. When
// already connected it returns immediately.
func (c *Connector) AutoConnect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.active != nil {
		return nil
	}

	for _, t := range c.registry.Ordered() {
		kind := t.Kind()

		if err := t.Available(); err != nil {
			c.logger.Printf("Skipping %s: %v", kind, err)
			continue
		}

		c.setState(State{Phase: Connecting, Kind: kind})
		c.logger.Printf("Trying %s...", kind)

		if err := t.Connect(ctx, c.config.PrinterName); err != nil {
			c.logger.Printf("%s failed: %v", kind, err)
			if terr := t.Teardown(); terr != nil {
				c.logger.Printf("Error tearing down %s: %v", kind, terr)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		c.active = t
		printer := t.PrinterName()
		c.setState(State{Phase: Connected, Kind: kind, Printer: printer})
		c.logger.Printf("Connected via %s to %s", kind, printer)
		return nil
	}

	reason := ErrNoTransport.Error()
	if err := ctx.Err(); err != nil {
		reason = err.Error()
	}
	c.setState(State{Phase: Failed, Reason: reason})
	c.logger.Printf("Negotiation failed: %s", reason)
	return ErrNoTransport
}

// Disconnect tears down the active transport. Teardown errors are logged and
// never returned. Calling it while disconnected does nothing.
func (c *Connector) Disconnect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardownLocked()
}

func (c *Connector) teardownLocked() {
	if c.active != nil {
		kind := c.active.Kind()
		if err := c.active.Teardown(); err != nil {
			c.logger.Printf("Error tearing down %s: %v", kind, err)
		}
		c.active = nil
		c.logger.Printf("Disconnected from %s", kind)
	}
	c.setState(State{Phase: Disconnected})
}

// CreatePrintJob starts a job bound to the active transport. Zero fields of
// config fall back to the connector's job config.
func (c *Connector) CreatePrintJob(config job.Config) (*Job, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if config.Width <= 0 {
		config.Width = c.config.Job.Width
	}
	if config.FontSize <= 0 {
		config.FontSize = c.config.Job.FontSize
	}
	if config.FontFamily == "" {
		config.FontFamily = c.config.Job.FontFamily
	}
	return &Job{conn: c, builder: job.NewBuilder(config)}, nil
}

// execute runs j on the active transport. A transport reporting its device
// gone is torn down so the next AutoConnect renegotiates.
func (c *Connector) execute(ctx context.Context, j *job.PrintJob) (PrintResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.active == nil {
		return PrintResult{}, ErrNotConnected
	}
	kind := c.active.Kind()

	res, err := c.active.ExecuteJob(ctx, j)
	if err != nil {
		c.logger.Printf("Job failed on %s: %v", kind, err)
		if errors.Is(err, adapter.ErrDeviceGone) {
			c.teardownLocked()
		}
		return PrintResult{}, fmt.Errorf("print via %s: %w", kind, err)
	}

	c.logger.Printf("Job %s printed via %s (%d bytes)", res.ID, kind, res.Bytes)
	return PrintResult{Success: true, JobID: res.ID, Method: kind.String()}, nil
}
