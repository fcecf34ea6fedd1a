package adapter

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/gousb"
	"github.com/google/uuid"

	"github.com/nixxel-company-limited/receipt-bridge/escpos"
	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// DefaultVendorIDs is the allow-list of thermal printer vendors matched by
// the raw USB transport.
var DefaultVendorIDs = []uint16{
	0x04b8, // Epson
	0x0519, // Star Micronics
	0x0416, // Winbond (generic POS-58/80)
	0x0483, // STMicroelectronics (Xprinter clones)
	0x0fe6, // ICS Advent
	0x1504, // Bixolon
	0x28e9, // GigaDevice (Rongta clones)
}

// bulkPort is the part of USBPort the raw transport needs.
type bulkPort interface {
	WriteContext(ctx context.Context, data []byte) (int, error)
	Close() error
	Identifier() string
}

// RawUSBTransport talks ESC/POS directly to interface 0 of an allow-listed device
// with a single bulk transfer per job.
type RawUSBTransport struct {
	vendors   []gousb.ID
	open      func(vendors []gousb.ID, logger *log.Logger) (bulkPort, error)
	available func() error
	logger    *log.Logger

	mu      sync.Mutex
	port    bulkPort
	printer string
}

// NewRawUSBTransport creates the transport. An empty vendors list uses
// DefaultVendorIDs.
func NewRawUSBTransport(vendors []uint16) *RawUSBTransport {
	if len(vendors) == 0 {
		vendors = DefaultVendorIDs
	}
	ids := make([]gousb.ID, len(vendors))
	for i, v := range vendors {
		ids[i] = gousb.ID(v)
	}
	return &RawUSBTransport{
		vendors:   ids,
		open:      openRawDevice,
		available: usbAvailable,
		logger:    newLogger("RAWUSB"),
	}
}

func openRawDevice(vendors []gousb.ID, logger *log.Logger) (bulkPort, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, err
	}
	devices, err := OpenByVendor(ctx, vendors)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if len(devices) == 0 {
		ctx.Close()
		return nil, ErrNoUSBDevice
	}
	port, err := openFirst(ctx, devices, 0, logger)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func (r *RawUSBTransport) Kind() Kind { return RawUSB }

func (r *RawUSBTransport) Available() error { return r.available() }

// Connect claims interface 0 of the first allow-listed device that has an
// OUT endpoint.
func (r *RawUSBTransport) Connect(ctx context.Context, printer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port != nil {
		return nil
	}

	port, err := r.open(r.vendors, r.logger)
	if err != nil {
		return fmt.Errorf("open raw usb device: %w", err)
	}
	r.port = port
	r.printer = port.Identifier()
	r.logger.Printf("Claimed %s", r.printer)
	return nil
}

func (r *RawUSBTransport) PrinterName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.printer
}

// ExecuteJob encodes the job and performs one bulk transfer. The transfer
// has no timeout of its own; it is bounded only by ctx.
func (r *RawUSBTransport) ExecuteJob(ctx context.Context, j *job.PrintJob) (JobResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return JobResult{}, ErrNotOpen
	}

	data := escpos.Encode(j.Items())
	n, err := r.port.WriteContext(ctx, data)
	if err != nil {
		return JobResult{Bytes: n}, fmt.Errorf("bulk transfer: %w", err)
	}
	if n < len(data) {
		return JobResult{Bytes: n}, fmt.Errorf("bulk transfer: short write %d/%d bytes", n, len(data))
	}
	return JobResult{ID: uuid.New().String(), Bytes: n}, nil
}

// Teardown releases the interface and closes the device.
func (r *RawUSBTransport) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	r.printer = ""
	return err
}
