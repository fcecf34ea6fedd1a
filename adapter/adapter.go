package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/nixxel-company-limited/receipt-bridge/job"
)

var (
	// ErrUnavailable means the transport cannot work on this host at all
	// (missing library, tool or configuration).
	ErrUnavailable = errors.New("transport unavailable")

	// ErrDeviceGone means the printer vanished mid-session and the
	// transport must be renegotiated.
	ErrDeviceGone = errors.New("printer device gone")

	// ErrNotOpen is returned when a transport is used before Connect.
	ErrNotOpen = errors.New("transport not connected")
)

// Kind identifies a transport strategy.
type Kind int

// Kinds in negotiation order: most specific first, rawest last.
const (
	VendorDriver Kind = iota
	VendorUSBLibrary
	NativeSpooler
	RawUSB
)

var kindNames = [...]string{
	VendorDriver:     "vendor-driver",
	VendorUSBLibrary: "vendor-usb",
	NativeSpooler:    "native-spooler",
	RawUSB:           "raw-usb",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind parses the String form of a Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown transport %q", s)
}

// Kinds returns every Kind in negotiation order.
func Kinds() []Kind {
	return []Kind{VendorDriver, VendorUSBLibrary, NativeSpooler, RawUSB}
}

// JobResult describes a job accepted by a transport.
type JobResult struct {
	ID    string
	Bytes int
}

// Transport is one way of reaching the physical printer.
type Transport interface {
	// Kind returns the strategy implemented.
	Kind() Kind

	// Available reports whether the transport can work on this host.
	// A nil error means Connect is worth trying.
	Available() error

	// Connect acquires the printer. On failure no resources are retained.
	Connect(ctx context.Context, printer string) error

	// PrinterName returns the identifier of the connected printer.
	PrinterName() string

	// ExecuteJob sends a job to the connected printer.
	ExecuteJob(ctx context.Context, j *job.PrintJob) (JobResult, error)

	// Teardown releases everything acquired by Connect. It is safe to call
	// when not connected.
	Teardown() error
}

// Registry holds at most one transport per Kind.
type Registry struct {
	mu         sync.RWMutex
	transports map[Kind]Transport
}

// NewRegistry creates a registry holding the given transports.
func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{transports: make(map[Kind]Transport)}
	for _, t := range transports {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any transport of the same Kind.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Kind()] = t
}

// Get returns the transport registered for k.
func (r *Registry) Get(k Kind) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[k]
	return t, ok
}

// Ordered returns the registered transports in negotiation order,
// regardless of registration order.
func (r *Registry) Ordered() []Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Transport
	for _, k := range Kinds() {
		if t, ok := r.transports[k]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Kinds returns the registered kinds in negotiation order.
func (r *Registry) Kinds() []Kind {
	var out []Kind
	for _, t := range r.Ordered() {
		out = append(out, t.Kind())
	}
	return out
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, "["+prefix+"] ", log.LstdFlags|log.Lmsgprefix)
}
