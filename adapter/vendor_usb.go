package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/nixxel-company-limited/receipt-bridge/escpos"
	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// LibraryTransport reaches the printer through the first printer-class USB device,
// driving it with the ESC/POS command writer.
type LibraryTransport struct {
	open      func(logger *log.Logger) (Port, error)
	available func() error
	encoder   escpos.Encoder
	logger    *log.Logger

	mu      sync.Mutex
	port    Port
	printer string
}

// NewLibraryTransport creates the transport using libusb enumeration.
func NewLibraryTransport(encoder escpos.Encoder) *LibraryTransport {
	return &LibraryTransport{
		open:      openPrinterClass,
		available: usbAvailable,
		encoder:   encoder,
		logger:    newLogger("VENDOR-USB"),
	}
}

func openPrinterClass(logger *log.Logger) (Port, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, err
	}
	devices := FindPrinters(ctx)
	if len(devices) == 0 {
		ctx.Close()
		return nil, ErrNoUSBDevice
	}
	port, err := openFirst(ctx, devices, FindPrinterInterface, logger)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func (v *LibraryTransport) Kind() Kind { return VendorUSBLibrary }

func (v *LibraryTransport) Available() error { return v.available() }

// Connect opens the first enumerated printer. The printer argument is not
// used to select the device.
func (v *LibraryTransport) Connect(ctx context.Context, printer string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.port != nil {
		return nil
	}

	port, err := v.open(v.logger)
	if err != nil {
		return fmt.Errorf("open usb printer: %w", err)
	}
	if !port.IsOpen() {
		if err := port.Open(); err != nil {
			port.Close()
			return fmt.Errorf("open usb printer: %w", err)
		}
	}

	v.port = port
	v.printer = port.Identifier()
	v.logger.Printf("Connected to %s", v.printer)
	return nil
}

func (v *LibraryTransport) PrinterName() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.printer
}

// ExecuteJob streams the items through the command writer and ends with a
// cut. Commands are assembled first so the device sees one write.
func (v *LibraryTransport) ExecuteJob(ctx context.Context, j *job.PrintJob) (JobResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.port == nil {
		return JobResult{}, ErrNotOpen
	}

	var buf bytes.Buffer
	w := escpos.NewWriter(&buf, v.encoder)
	w.Init()
	if j.Config.FontSize > 1 {
		w.SetSize(j.Config.FontSize, j.Config.FontSize)
	}
	w.Items(j.Items())
	w.Cut()
	if err := w.Err(); err != nil {
		return JobResult{}, fmt.Errorf("render job: %w", err)
	}

	n, err := v.port.Write(buf.Bytes())
	if err != nil {
		return JobResult{Bytes: n}, fmt.Errorf("usb write: %w", err)
	}
	if n < buf.Len() {
		return JobResult{Bytes: n}, fmt.Errorf("usb write: short write %d/%d bytes", n, buf.Len())
	}
	return JobResult{ID: uuid.New().String(), Bytes: n}, nil
}

func (v *LibraryTransport) Teardown() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.port == nil {
		return nil
	}
	err := v.port.Close()
	v.port = nil
	v.printer = ""
	return err
}
