package adapter

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// MockBulkPort records bulk transfers and teardown.
type MockBulkPort struct {
	written  []byte
	writeErr error
	closed   int
	closeErr error
}

func (m *MockBulkPort) WriteContext(ctx context.Context, data []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.written = append(m.written, data...)
	return len(data), nil
}

func (m *MockBulkPort) Close() error {
	m.closed++
	return m.closeErr
}

func (m *MockBulkPort) Identifier() string { return "USB 04b8:0202" }

func newTestRawUSB(port *MockBulkPort, openErr error) *RawUSBTransport {
	r := NewRawUSBTransport(nil)
	r.available = func() error { return nil }
	r.open = func(vendors []gousb.ID, logger *log.Logger) (bulkPort, error) {
		if openErr != nil {
			return nil, openErr
		}
		return port, nil
	}
	return r
}

func TestRawUSBDefaultVendors(t *testing.T) {
	r := NewRawUSBTransport(nil)
	require.Len(t, r.vendors, len(DefaultVendorIDs))
	assert.Equal(t, gousb.ID(0x04b8), r.vendors[0])

	r = NewRawUSBTransport([]uint16{0x1234})
	assert.Equal(t, []gousb.ID{0x1234}, r.vendors)
}

func TestRawUSBHelloSeparator(t *testing.T) {
	port := &MockBulkPort{}
	r := newTestRawUSB(port, nil)

	require.NoError(t, r.Connect(context.Background(), ""))
	assert.Equal(t, "USB 04b8:0202", r.PrinterName())

	j, err := job.NewBuilder(job.Config{Width: 80}).AddText("HELLO").AddSeparator('=').Build()
	require.NoError(t, err)

	res, err := r.ExecuteJob(context.Background(), j)
	require.NoError(t, err)

	want := []byte{0x1B, 0x40}
	want = append(want, "HELLO"...)
	want = append(want, strings.Repeat("=", 80)...)
	want = append(want, 0x1D, 0x56, 0x00)
	assert.Equal(t, want, port.written)
	assert.Equal(t, len(want), res.Bytes)
	assert.NotEmpty(t, res.ID)
}

func TestRawUSBConnectFailure(t *testing.T) {
	r := newTestRawUSB(nil, ErrNoUSBDevice)

	err := r.Connect(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoUSBDevice)
	assert.Equal(t, "", r.PrinterName())

	_, err = r.ExecuteJob(context.Background(), mustJob(t))
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestRawUSBTransferError(t *testing.T) {
	port := &MockBulkPort{writeErr: errors.New("LIBUSB_ERROR_PIPE")}
	r := newTestRawUSB(port, nil)
	require.NoError(t, r.Connect(context.Background(), ""))

	_, err := r.ExecuteJob(context.Background(), mustJob(t))
	assert.ErrorContains(t, err, "bulk transfer")
}

func TestRawUSBTeardown(t *testing.T) {
	port := &MockBulkPort{closeErr: errors.New("release failed")}
	r := newTestRawUSB(port, nil)
	require.NoError(t, r.Connect(context.Background(), ""))

	assert.Error(t, r.Teardown())
	assert.Equal(t, 1, port.closed)
	assert.Equal(t, "", r.PrinterName())

	// Released even though the close failed; a second teardown is a no-op.
	assert.NoError(t, r.Teardown())
	assert.Equal(t, 1, port.closed)
}
