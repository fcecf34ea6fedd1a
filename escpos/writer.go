package escpos

import (
	"io"

	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// StatusRequest is DLE EOT 1, the real-time printer status query.
var StatusRequest = []byte{DLE, EOT, 0x01}

// StatusOnline reports whether a DLE EOT 1 reply byte describes an online
// printer. Bits 1 and 4 are fixed to 1; bit 3 set means offline.
func StatusOnline(b byte) bool {
	return b&0x12 == 0x12 && b&0x08 == 0
}

// Writer issues ESC/POS commands to an underlying stream. The first write
// error sticks and is returned by every later call.
type Writer struct {
	w   io.Writer
	enc Encoder
	n   int
	err error
}

// NewWriter returns a Writer sending to w.
func NewWriter(w io.Writer, enc Encoder) *Writer {
	return &Writer{w: w, enc: enc}
}

func (p *Writer) write(b []byte) error {
	if p.err != nil {
		return p.err
	}
	n, err := p.w.Write(b)
	p.n += n
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	p.err = err
	return err
}

// Init resets the printer.
func (p *Writer) Init() error { return p.write(Init) }

// Text prints s without a trailing line feed.
func (p *Writer) Text(s string) error { return p.write(p.enc.text(s)) }

// Feed prints a line feed.
func (p *Writer) Feed() error { return p.write([]byte{LF}) }

// Cut cuts the paper.
func (p *Writer) Cut() error { return p.write(Cut) }

// SetSize selects character magnification with GS !. Sizes are clamped to 1..8.
func (p *Writer) SetSize(width, height int) error {
	clamp := func(v int) byte {
		if v < 1 {
			v = 1
		}
		if v > 8 {
			v = 8
		}
		return byte(v - 1)
	}
	return p.write([]byte{GS, '!', clamp(width)<<4 | clamp(height)})
}

// Items prints content items in order.
func (p *Writer) Items(items []job.Item) error {
	for _, it := range items {
		var err error
		switch v := it.(type) {
		case job.Text:
			err = p.Text(string(v))
		case job.Rule:
			err = p.Text(v.String())
		case job.LineBreak:
			err = p.Feed()
		}
		if err != nil {
			return err
		}
	}
	return p.err
}

// Written returns the number of bytes accepted by the underlying stream.
func (p *Writer) Written() int { return p.n }

// Err returns the first write error, if any.
func (p *Writer) Err() error { return p.err }
