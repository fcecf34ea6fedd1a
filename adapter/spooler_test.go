package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// MockSpooler is a scripted Spooler.
type MockSpooler struct {
	printers  map[string]bool
	lookupErr error
	submitted []byte
	answers   []submitResult
}

func (m *MockSpooler) Available() error { return nil }

func (m *MockSpooler) Lookup(ctx context.Context, name string) (bool, error) {
	return m.printers[name], m.lookupErr
}

func (m *MockSpooler) Submit(ctx context.Context, name string, data []byte, done func(string, error)) {
	m.submitted = data
	go func() {
		for _, a := range m.answers {
			done(a.id, a.err)
		}
	}()
}

func TestSpoolerConnect(t *testing.T) {
	m := &MockSpooler{printers: map[string]bool{"Receipt": true}}
	s := NewSpoolerTransport(m)

	assert.Error(t, s.Connect(context.Background(), ""))
	assert.Error(t, s.Connect(context.Background(), "Missing"))
	assert.Equal(t, "", s.PrinterName())

	require.NoError(t, s.Connect(context.Background(), "Receipt"))
	assert.Equal(t, "Receipt", s.PrinterName())

	require.NoError(t, s.Teardown())
	assert.Equal(t, "", s.PrinterName())
}

func TestSpoolerConnectLookupError(t *testing.T) {
	m := &MockSpooler{lookupErr: errors.New("cups down")}
	s := NewSpoolerTransport(m)

	err := s.Connect(context.Background(), "Receipt")
	assert.ErrorContains(t, err, "cups down")
}

func TestSpoolerExecute(t *testing.T) {
	m := &MockSpooler{
		printers: map[string]bool{"Receipt": true},
		answers:  []submitResult{{id: "Receipt-7"}},
	}
	s := NewSpoolerTransport(m)
	require.NoError(t, s.Connect(context.Background(), "Receipt"))

	j, err := job.NewBuilder(job.Config{Width: 3}).AddText("A").AddLineBreak().AddSeparator('#').Build()
	require.NoError(t, err)

	res, err := s.ExecuteJob(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, "Receipt-7", res.ID)
	assert.Equal(t, []byte("A\n###"), m.submitted)
	assert.Equal(t, 5, res.Bytes)
}

func TestSpoolerExecuteRejected(t *testing.T) {
	m := &MockSpooler{
		printers: map[string]bool{"Receipt": true},
		answers: []submitResult{
			{err: errors.New("queue paused")},
			{id: "late-success"},
		},
	}
	s := NewSpoolerTransport(m)
	require.NoError(t, s.Connect(context.Background(), "Receipt"))

	_, err := s.ExecuteJob(context.Background(), mustJob(t))
	assert.ErrorContains(t, err, "queue paused")
}

func TestSpoolerExecuteNotConnected(t *testing.T) {
	s := NewSpoolerTransport(&MockSpooler{})
	_, err := s.ExecuteJob(context.Background(), mustJob(t))
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestParseRequestID(t *testing.T) {
	assert.Equal(t, "Receipt-42", ParseRequestID("request id is Receipt-42 (1 file(s))\n"))
	assert.Equal(t, "", ParseRequestID("lp: error"))
}

func TestCUPSAvailable(t *testing.T) {
	c := &CUPS{LP: "definitely-not-a-real-lp", LPStat: "lpstat"}
	assert.ErrorIs(t, c.Available(), ErrUnavailable)
}
