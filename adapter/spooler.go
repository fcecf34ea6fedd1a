package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// Spooler is the host print spooler.
type Spooler interface {
	// Available reports whether the spooler can be used on this host.
	Available() error

	// Lookup reports whether name is a known printer.
	Lookup(ctx context.Context, name string) (bool, error)

	// Submit queues a raw job and reports the outcome through done.
	Submit(ctx context.Context, name string, data []byte, done func(jobID string, err error))
}

// SpoolerTransport submits jobs to a named printer queue of the OS spooler.
type SpoolerTransport struct {
	spooler Spooler
	logger  *log.Logger

	mu      sync.Mutex
	printer string
}

// NewSpoolerTransport creates the transport over spooler.
func NewSpoolerTransport(spooler Spooler) *SpoolerTransport {
	return &SpoolerTransport{
		spooler: spooler,
		logger:  newLogger("SPOOLER"),
	}
}

func (s *SpoolerTransport) Kind() Kind { return NativeSpooler }

func (s *SpoolerTransport) Available() error { return s.spooler.Available() }

// Connect checks that printer is registered with the spooler.
func (s *SpoolerTransport) Connect(ctx context.Context, printer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.printer != "" {
		return nil
	}
	if printer == "" {
		return errors.New("no printer name configured")
	}

	ok, err := s.spooler.Lookup(ctx, printer)
	if err != nil {
		return fmt.Errorf("query spooler for %q: %w", printer, err)
	}
	if !ok {
		return fmt.Errorf("printer %q not found in spooler", printer)
	}

	s.printer = printer
	s.logger.Printf("Using spooler queue %s", printer)
	return nil
}

func (s *SpoolerTransport) PrinterName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.printer
}

type submitResult struct {
	id  string
	err error
}

// ExecuteJob submits the job text as one raw job and waits for the
// spooler's single answer. Extra callback invocations are ignored.
func (s *SpoolerTransport) ExecuteJob(ctx context.Context, j *job.PrintJob) (JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.printer == "" {
		return JobResult{}, ErrNotOpen
	}

	data := []byte(j.PlainText())
	result := make(chan submitResult, 1)
	var once sync.Once

	s.spooler.Submit(ctx, s.printer, data, func(id string, err error) {
		once.Do(func() {
			result <- submitResult{id: id, err: err}
		})
	})

	r := <-result
	if r.err != nil {
		return JobResult{}, fmt.Errorf("spooler rejected job: %w", r.err)
	}
	if r.id == "" {
		r.id = uuid.New().String()
	}
	return JobResult{ID: r.id, Bytes: len(data)}, nil
}

// Teardown drops the queue reference.
func (s *SpoolerTransport) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printer = ""
	return nil
}

// CUPS drives the CUPS command line tools.
type CUPS struct {
	LP     string
	LPStat string
}

// NewCUPS uses lp and lpstat from PATH.
func NewCUPS() *CUPS {
	return &CUPS{LP: "lp", LPStat: "lpstat"}
}

func (c *CUPS) Available() error {
	for _, tool := range []string{c.LP, c.LPStat} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%w: %s not found", ErrUnavailable, tool)
		}
	}
	return nil
}

// Lookup runs lpstat -p name; a non-zero exit means the printer is unknown.
func (c *CUPS) Lookup(ctx context.Context, name string) (bool, error) {
	err := exec.CommandContext(ctx, c.LPStat, "-p", name).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// Submit pipes data to lp -o raw in the background.
func (c *CUPS) Submit(ctx context.Context, name string, data []byte, done func(jobID string, err error)) {
	go func() {
		var stdout, stderr bytes.Buffer
		cmd := exec.Command(c.LP, "-d", name, "-o", "raw")
		cmd.Stdin = bytes.NewReader(data)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			done("", err)
			return
		}
		done(ParseRequestID(stdout.String()), nil)
	}()
}

var requestIDPattern = regexp.MustCompile(`request id is (\S+)`)

// ParseRequestID extracts the job id from lp output such as
// "request id is Receipt-42 (1 file(s))".
func ParseRequestID(out string) string {
	m := requestIDPattern.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return m[1]
}
