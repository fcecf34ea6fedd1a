package server

import (
	"errors"
	"fmt"

	"github.com/nixxel-company-limited/receipt-bridge/adapter"
	"github.com/nixxel-company-limited/receipt-bridge/connector"
	"github.com/nixxel-company-limited/receipt-bridge/job"
	"github.com/nixxel-company-limited/receipt-bridge/supervisor"
)

var (
	errUnknownMessage = errors.New("unknown message type")
	errMissingData    = errors.New("message has no data")
	errInvalidData    = errors.New("invalid message data")
)

// FriendlyError turns an error into a message fit for the POS screen.
func FriendlyError(err error) string {
	mappings := []struct {
		target  error
		message string
	}{
		{supervisor.ErrMaxRetries, "PRINTER: Could not connect after several attempts - check cable and power, then restart"},
		{connector.ErrNoTransport, "PRINTER: No printer found - retrying may help"},
		{connector.ErrNotConnected, "PRINTER: Not connected"},
		{adapter.ErrDeviceGone, "PRINTER: Printer was disconnected"},
		{job.ErrNoContent, "VALIDATION: Receipt has no content"},
		{errMissingData, "VALIDATION: Missing 'data' field"},
		{errInvalidData, "JSON: Invalid document structure"},
		{errUnknownMessage, "COMMAND: Unknown message type"},
	}

	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.message
		}
	}
	return fmt.Sprintf("ERROR: %v", err)
}
