package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tarm/serial"

	"github.com/nixxel-company-limited/receipt-bridge/escpos"
	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// DefaultDriverTimeout bounds the driver's connect and status probe.
const DefaultDriverTimeout = 3 * time.Second

const (
	defaultRawPort  = "9100"
	defaultBaudRate = 9600
)

// ErrOffline is returned when the status probe reports the printer offline.
var ErrOffline = errors.New("printer reports offline")

// Endpoint is a parsed driver interface string.
type Endpoint struct {
	Network string // "tcp" or "serial"
	Address string
	Baud    int
}

func (e Endpoint) String() string {
	if e.Network == "serial" {
		return fmt.Sprintf("serial:%s?baud=%d", e.Address, e.Baud)
	}
	return "tcp://" + e.Address
}

// ParseInterface parses "tcp://host[:port]" or "serial:/dev/ttyUSB0[?baud=N]"
// ("serial:COM3" on Windows).
func ParseInterface(s string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid printer interface %q: %w", s, err)
	}

	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("invalid printer interface %q: missing host", s)
		}
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), defaultRawPort)
		}
		return Endpoint{Network: "tcp", Address: host}, nil

	case "serial":
		path := u.Opaque
		if path == "" {
			path = u.Path
		}
		if path == "" {
			return Endpoint{}, fmt.Errorf("invalid printer interface %q: missing device", s)
		}
		baud := defaultBaudRate
		if b := u.Query().Get("baud"); b != "" {
			baud, err = strconv.Atoi(b)
			if err != nil || baud <= 0 {
				return Endpoint{}, fmt.Errorf("invalid printer interface %q: bad baud rate", s)
			}
		}
		return Endpoint{Network: "serial", Address: path, Baud: baud}, nil
	}

	return Endpoint{}, fmt.Errorf("invalid printer interface %q: unsupported scheme %q", s, u.Scheme)
}

// DriverConfig configures the thermal driver transport.
type DriverConfig struct {
	Interface string
	Timeout   time.Duration
	Encoder   escpos.Encoder
}

// DriverTransport is the thermal printer driver: it opens the configured
// interface, checks the printer is online and sends buffered jobs in one
// flush.
type DriverTransport struct {
	config DriverConfig
	dial   func(ctx context.Context, ep Endpoint, timeout time.Duration) (io.ReadWriteCloser, error)
	logger *log.Logger

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	printer string
}

// NewDriverTransport creates the driver transport.
func NewDriverTransport(config DriverConfig) *DriverTransport {
	if config.Timeout <= 0 {
		config.Timeout = DefaultDriverTimeout
	}
	return &DriverTransport{
		config: config,
		dial:   dialEndpoint,
		logger: newLogger("DRIVER"),
	}
}

func dialEndpoint(ctx context.Context, ep Endpoint, timeout time.Duration) (io.ReadWriteCloser, error) {
	if ep.Network == "serial" {
		port, err := serial.OpenPort(&serial.Config{
			Name:        ep.Address,
			Baud:        ep.Baud,
			ReadTimeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		return port, nil
	}
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", ep.Address)
}

func (d *DriverTransport) Kind() Kind { return VendorDriver }

// Available requires a parseable interface string.
func (d *DriverTransport) Available() error {
	if d.config.Interface == "" {
		return fmt.Errorf("%w: no driver interface configured", ErrUnavailable)
	}
	if _, err := ParseInterface(d.config.Interface); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Connect opens the interface and probes the printer status, all within the
// fixed driver timeout. Nothing is kept on failure.
func (d *DriverTransport) Connect(ctx context.Context, printer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return nil
	}

	ep, err := ParseInterface(d.config.Interface)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	conn, err := d.dial(ctx, ep, d.config.Timeout)
	if err != nil {
		return fmt.Errorf("open %s: %w", ep, err)
	}

	if err := probe(ctx, conn); err != nil {
		conn.Close()
		return fmt.Errorf("probe %s: %w", ep, err)
	}

	d.conn = conn
	d.printer = printer
	if d.printer == "" {
		d.printer = ep.String()
	}
	d.logger.Printf("Connected to %s via %s", d.printer, ep)
	return nil
}

// probe sends DLE EOT 1 and waits for an online status byte. The connection
// is closed by the caller when the context expires first, which unblocks the
// pending read.
func probe(ctx context.Context, conn io.ReadWriteCloser) error {
	type reply struct {
		b   byte
		err error
	}
	done := make(chan reply, 1)

	go func() {
		if _, err := conn.Write(escpos.StatusRequest); err != nil {
			done <- reply{err: err}
			return
		}
		buf := make([]byte, 1)
		if _, err := io.ReadFull(conn, buf); err != nil {
			done <- reply{err: err}
			return
		}
		done <- reply{b: buf[0]}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return fmt.Errorf("no status reply: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		if !escpos.StatusOnline(r.b) {
			return fmt.Errorf("%w (status 0x%02x)", ErrOffline, r.b)
		}
		return nil
	}
}

func (d *DriverTransport) PrinterName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.printer
}

// ExecuteJob renders the job into the driver buffer and flushes it.
func (d *DriverTransport) ExecuteJob(ctx context.Context, j *job.PrintJob) (JobResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return JobResult{}, ErrNotOpen
	}

	var buf bytes.Buffer
	w := escpos.NewWriter(&buf, d.config.Encoder)
	w.Init()
	if j.Config.FontSize > 1 {
		w.SetSize(j.Config.FontSize, j.Config.FontSize)
	}
	w.Items(j.Items())
	w.Cut()
	if err := w.Err(); err != nil {
		return JobResult{}, fmt.Errorf("render job: %w", err)
	}

	n, err := d.conn.Write(buf.Bytes())
	if err == nil && n < buf.Len() {
		err = io.ErrShortWrite
	}
	if err != nil {
		if linkLost(err) {
			err = fmt.Errorf("%w: %v", ErrDeviceGone, err)
		}
		return JobResult{Bytes: n}, fmt.Errorf("driver flush: %w", err)
	}
	return JobResult{ID: uuid.New().String(), Bytes: n}, nil
}

// linkLost reports whether a write error means the printer dropped off:
// a closed or reset socket, or an unplugged serial device.
func linkLost(err error) bool {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrShortWrite), errors.Is(err, net.ErrClosed):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.EIO):
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "write"
}

func (d *DriverTransport) Teardown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.printer = ""
	return err
}
