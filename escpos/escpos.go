// Package escpos encodes receipt content into ESC/POS byte streams.
package escpos

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// Control bytes
const (
	ESC = 0x1B
	GS  = 0x1D
	DLE = 0x10
	EOT = 0x04
	LF  = 0x0A
)

var (
	// Init is ESC @, which resets the printer.
	Init = []byte{ESC, '@'}
	// Cut is GS V 0, a full paper cut.
	Cut = []byte{GS, 'V', 0x00}
)

// ErrFraming is returned by Decode when the stream lacks the init header or
// cut trailer.
var ErrFraming = errors.New("escpos: stream is not framed by init and cut")

// Encode returns the ESC/POS stream for items using UTF-8 text.
func Encode(items []job.Item) []byte {
	return Encoder{}.Encode(items)
}

// Encoder turns content into ESC/POS bytes. A nil CodePage sends text as
// UTF-8; otherwise text is transcoded and unsupported runes become '?'.
type Encoder struct {
	CodePage *charmap.Charmap
}

// Encode emits init, the content and the cut trailer.
func (e Encoder) Encode(items []job.Item) []byte {
	var buf bytes.Buffer
	buf.Write(Init)
	for _, it := range items {
		switch v := it.(type) {
		case job.Text:
			buf.Write(e.text(string(v)))
		case job.Rule:
			buf.Write(e.text(v.String()))
		case job.LineBreak:
			buf.WriteByte(LF)
		default:
			panic(fmt.Sprintf("escpos: unhandled item %T", it))
		}
	}
	buf.Write(Cut)
	return buf.Bytes()
}

func (e Encoder) text(s string) []byte {
	if e.CodePage == nil {
		return []byte(s)
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := e.CodePage.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

// Decode recovers the Text and LineBreak content of a stream produced by
// Encode. Adjacent text comes back as one Text item and every line feed,
// including one embedded in a Text, comes back as a LineBreak.
func Decode(data []byte) ([]job.Item, error) {
	if !bytes.HasPrefix(data, Init) || !bytes.HasSuffix(data, Cut) || len(data) < len(Init)+len(Cut) {
		return nil, ErrFraming
	}
	payload := data[len(Init) : len(data)-len(Cut)]

	var items []job.Item
	for len(payload) > 0 {
		i := bytes.IndexByte(payload, LF)
		if i < 0 {
			items = append(items, job.Text(payload))
			break
		}
		if i > 0 {
			items = append(items, job.Text(payload[:i]))
		}
		items = append(items, job.LineBreak{})
		payload = payload[i+1:]
	}
	return items, nil
}

var codePages = map[string]*charmap.Charmap{
	"cp437":       charmap.CodePage437,
	"cp850":       charmap.CodePage850,
	"cp858":       charmap.CodePage858,
	"cp866":       charmap.CodePage866,
	"windows1252": charmap.Windows1252,
	"windows1251": charmap.Windows1251,
}

// CodePage looks up a code page by name. An empty name means UTF-8 and
// returns nil.
func CodePage(name string) (*charmap.Charmap, error) {
	name = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
	if name == "" || name == "utf8" {
		return nil, nil
	}
	cm, ok := codePages[name]
	if !ok {
		return nil, fmt.Errorf("escpos: unknown code page %q", name)
	}
	return cm, nil
}
