package adapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/receipt-bridge/escpos"
	"github.com/nixxel-company-limited/receipt-bridge/job"
)

func TestParseInterface(t *testing.T) {
	testCases := []struct {
		in   string
		want Endpoint
	}{
		{"tcp://192.168.1.50:9100", Endpoint{Network: "tcp", Address: "192.168.1.50:9100"}},
		{"tcp://printer.local", Endpoint{Network: "tcp", Address: "printer.local:9100"}},
		{"serial:/dev/ttyUSB0", Endpoint{Network: "serial", Address: "/dev/ttyUSB0", Baud: 9600}},
		{"serial:/dev/ttyS1?baud=19200", Endpoint{Network: "serial", Address: "/dev/ttyS1", Baud: 19200}},
		{"serial:COM3", Endpoint{Network: "serial", Address: "COM3", Baud: 9600}},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseInterface(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseInterfaceInvalid(t *testing.T) {
	for _, in := range []string{"", "printer:EPSON", "tcp://", "serial:", "serial:/dev/x?baud=fast"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseInterface(in)
			assert.Error(t, err)
		})
	}
}

func TestDriverAvailable(t *testing.T) {
	assert.ErrorIs(t, NewDriverTransport(DriverConfig{}).Available(), ErrUnavailable)
	assert.ErrorIs(t, NewDriverTransport(DriverConfig{Interface: "lpt1"}).Available(), ErrUnavailable)
	assert.NoError(t, NewDriverTransport(DriverConfig{Interface: "tcp://127.0.0.1:9100"}).Available())
}

// fakePrinter answers the status probe with status and collects what
// follows.
func fakePrinter(t *testing.T, status []byte) (addr string, received <-chan []byte) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	out := make(chan []byte, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		probe := make([]byte, len(escpos.StatusRequest))
		if _, err := io.ReadFull(conn, probe); err != nil {
			return
		}
		if status != nil {
			conn.Write(status)
		}
		data, _ := io.ReadAll(conn)
		out <- data
	}()

	return listener.Addr().String(), out
}

func TestDriverConnectAndExecute(t *testing.T) {
	addr, received := fakePrinter(t, []byte{0x12})

	d := NewDriverTransport(DriverConfig{Interface: "tcp://" + addr, Timeout: time.Second})
	require.NoError(t, d.Connect(context.Background(), "Counter"))
	assert.Equal(t, "Counter", d.PrinterName())

	j, err := job.NewBuilder(job.Config{Width: 4, FontSize: 2}).AddText("HI").AddLineBreak().AddSeparator('-').Build()
	require.NoError(t, err)

	res, err := d.ExecuteJob(context.Background(), j)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)

	require.NoError(t, d.Teardown())

	select {
	case data := <-received:
		want := []byte{0x1B, 0x40, 0x1D, '!', 0x11}
		want = append(want, "HI\n----"...)
		want = append(want, 0x1D, 0x56, 0x00)
		assert.Equal(t, want, data)
		assert.Equal(t, len(want), res.Bytes)
	case <-time.After(2 * time.Second):
		t.Fatal("printer did not receive the job")
	}
}

func TestDriverDefaultPrinterName(t *testing.T) {
	addr, _ := fakePrinter(t, []byte{0x12})

	d := NewDriverTransport(DriverConfig{Interface: "tcp://" + addr, Timeout: time.Second})
	require.NoError(t, d.Connect(context.Background(), ""))
	defer d.Teardown()

	assert.Equal(t, "tcp://"+addr, d.PrinterName())
}

func TestDriverProbeOffline(t *testing.T) {
	addr, _ := fakePrinter(t, []byte{0x1A})

	d := NewDriverTransport(DriverConfig{Interface: "tcp://" + addr, Timeout: time.Second})
	err := d.Connect(context.Background(), "")
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, "", d.PrinterName())

	_, err = d.ExecuteJob(context.Background(), mustJob(t))
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestDriverProbeTimeout(t *testing.T) {
	addr, _ := fakePrinter(t, nil)

	d := NewDriverTransport(DriverConfig{Interface: "tcp://" + addr, Timeout: 100 * time.Millisecond})
	start := time.Now()
	err := d.Connect(context.Background(), "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no status reply")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDriverConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	d := NewDriverTransport(DriverConfig{Interface: "tcp://" + addr, Timeout: time.Second})
	err = d.Connect(context.Background(), "")
	assert.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "open tcp://"))
}

type pipeConn struct {
	io.Reader
	bytes.Buffer
	closed   bool
	writeErr error
}

func (p *pipeConn) Read(b []byte) (int, error) { return p.Reader.Read(b) }
func (p *pipeConn) Close() error               { p.closed = true; return nil }

func (p *pipeConn) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.Buffer.Write(b)
}

func TestDriverCodePage(t *testing.T) {
	cp, err := escpos.CodePage("cp437")
	require.NoError(t, err)

	conn := &pipeConn{Reader: bytes.NewReader([]byte{0x12})}
	d := NewDriverTransport(DriverConfig{Interface: "serial:/dev/null", Encoder: escpos.Encoder{CodePage: cp}})
	d.dial = func(ctx context.Context, ep Endpoint, timeout time.Duration) (io.ReadWriteCloser, error) {
		assert.Equal(t, "serial", ep.Network)
		return conn, nil
	}

	require.NoError(t, d.Connect(context.Background(), "Bar"))
	conn.Buffer.Reset()

	j, err := job.NewBuilder(job.Config{}).AddText("é").Build()
	require.NoError(t, err)
	_, err = d.ExecuteJob(context.Background(), j)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x1B, 0x40, 0x82, 0x1D, 0x56, 0x00}, conn.Buffer.Bytes())

	require.NoError(t, d.Teardown())
	assert.True(t, conn.closed)
	assert.NoError(t, d.Teardown())
}

func mustJob(t *testing.T) *job.PrintJob {
	t.Helper()
	j, err := job.NewBuilder(job.Config{}).AddText("x").Build()
	require.NoError(t, err)
	return j
}

func TestDriverLinkLost(t *testing.T) {
	testCases := map[string]error{
		"reset":      &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.ECONNRESET)},
		"pipe":       &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)},
		"serial eio": &os.PathError{Op: "write", Path: "/dev/ttyUSB0", Err: syscall.EIO},
		"closed":     net.ErrClosed,
		"eof":        io.EOF,
	}
	for name, writeErr := range testCases {
		t.Run(name, func(t *testing.T) {
			conn := &pipeConn{Reader: bytes.NewReader([]byte{0x12})}
			d := NewDriverTransport(DriverConfig{Interface: "serial:/dev/null"})
			d.dial = func(ctx context.Context, ep Endpoint, timeout time.Duration) (io.ReadWriteCloser, error) {
				return conn, nil
			}
			require.NoError(t, d.Connect(context.Background(), ""))

			conn.writeErr = writeErr
			_, err := d.ExecuteJob(context.Background(), mustJob(t))
			assert.ErrorIs(t, err, ErrDeviceGone)
		})
	}
}

func TestDriverPaperJamIsNotDeviceGone(t *testing.T) {
	conn := &pipeConn{Reader: bytes.NewReader([]byte{0x12})}
	d := NewDriverTransport(DriverConfig{Interface: "serial:/dev/null"})
	d.dial = func(ctx context.Context, ep Endpoint, timeout time.Duration) (io.ReadWriteCloser, error) {
		return conn, nil
	}
	require.NoError(t, d.Connect(context.Background(), ""))

	conn.writeErr = errors.New("paper jam")
	_, err := d.ExecuteJob(context.Background(), mustJob(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeviceGone)
}

func TestDriverPrinterResetsConnection(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		probe := make([]byte, len(escpos.StatusRequest))
		if _, err := io.ReadFull(conn, probe); err != nil {
			conn.Close()
			return
		}
		conn.Write([]byte{0x12})
		// Power loss: drop the link with a RST instead of a FIN.
		conn.(*net.TCPConn).SetLinger(0)
		conn.Close()
	}()

	d := NewDriverTransport(DriverConfig{Interface: "tcp://" + listener.Addr().String(), Timeout: time.Second})
	require.NoError(t, d.Connect(context.Background(), ""))
	defer d.Teardown()

	// The first writes can land in the socket buffer before the reset arrives.
	for i := 0; i < 50; i++ {
		if _, err = d.ExecuteJob(context.Background(), mustJob(t)); err != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceGone)
}
