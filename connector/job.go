package connector

import (
	"context"

	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// Job is a print job under construction on a connector.
type Job struct {
	conn    *Connector
	builder *job.Builder
}

func (j *Job) AddText(s string) *Job {
	j.builder.AddText(s)
	return j
}

func (j *Job) AddLineBreak() *Job {
	j.builder.AddLineBreak()
	return j
}

func (j *Job) AddSeparator(char rune) *Job {
	j.builder.AddSeparator(char)
	return j
}

func (j *Job) AddBetReceipt(r job.Receipt) *Job {
	j.builder.AddBetReceipt(r)
	return j
}

func (j *Job) AddBetSlip(s job.Slip) *Job {
	j.builder.AddBetSlip(s)
	return j
}

// Execute freezes the job and prints it. An empty job fails with
// job.ErrNoContent before any transport is touched.
func (j *Job) Execute(ctx context.Context) (PrintResult, error) {
	pj, err := j.builder.Build()
	if err != nil {
		return PrintResult{}, err
	}
	return j.conn.execute(ctx, pj)
}
