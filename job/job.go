// Package job holds the transport-independent receipt content model and the
// fluent builder used to assemble print jobs.
package job

import (
	"errors"
	"strings"
)

// DefaultWidth is the column width used when a job config leaves it unset.
const DefaultWidth = 80

// ErrNoContent is returned when a job is built without any items.
var ErrNoContent = errors.New("print job has no content")

// Item is one piece of receipt content: Text, LineBreak or Rule.
type Item interface {
	item()
}

// Text is a run of text printed as-is.
type Text string

// LineBreak advances the paper by one line.
type LineBreak struct{}

// Rule is a separator made of Char repeated Width times.
type Rule struct {
	Char  rune
	Width int
}

func (Text) item()      {}
func (LineBreak) item() {}
func (Rule) item()      {}

// String expands the rule to its printable text.
func (r Rule) String() string {
	if r.Width <= 0 {
		return ""
	}
	return strings.Repeat(string(r.Char), r.Width)
}

// Config describes the page a job is laid out for.
type Config struct {
	Width      int    `json:"width" mapstructure:"width"`
	FontSize   int    `json:"fontSize" mapstructure:"font_size"`
	FontFamily string `json:"fontFamily" mapstructure:"font_family"`
}

// Normalized returns a copy of c with defaults applied.
func (c Config) Normalized() Config {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.FontSize <= 0 {
		c.FontSize = 1
	}
	return c
}

// PrintJob is a frozen sequence of items plus the config it was built with.
type PrintJob struct {
	Config Config
	items  []Item
}

// Items returns a copy of the job content.
func (j *PrintJob) Items() []Item {
	out := make([]Item, len(j.items))
	copy(out, j.items)
	return out
}

// Len returns the number of items in the job.
func (j *PrintJob) Len() int {
	return len(j.items)
}

// PlainText renders the job as text: rules expanded, line breaks as "\n".
func (j *PrintJob) PlainText() string {
	var sb strings.Builder
	for _, it := range j.items {
		switch v := it.(type) {
		case Text:
			sb.WriteString(string(v))
		case Rule:
			sb.WriteString(v.String())
		case LineBreak:
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Builder appends items to a job under construction. Every Add method returns
// the builder so calls can be chained.
type Builder struct {
	config Config
	items  []Item
}

// NewBuilder starts a new job with the given config.
func NewBuilder(config Config) *Builder {
	return &Builder{config: config.Normalized()}
}

// Config returns the normalized config of the job under construction.
func (b *Builder) Config() Config {
	return b.config
}

// AddText appends a text run.
func (b *Builder) AddText(s string) *Builder {
	b.items = append(b.items, Text(s))
	return b
}

// AddLineBreak appends a line break.
func (b *Builder) AddLineBreak() *Builder {
	b.items = append(b.items, LineBreak{})
	return b
}

// AddSeparator appends a rule of char spanning the configured width.
func (b *Builder) AddSeparator(char rune) *Builder {
	b.items = append(b.items, Rule{Char: char, Width: b.config.Width})
	return b
}

// Len returns the number of items appended so far.
func (b *Builder) Len() int {
	return len(b.items)
}

// Build freezes the appended items into a PrintJob.
func (b *Builder) Build() (*PrintJob, error) {
	if len(b.items) == 0 {
		return nil, ErrNoContent
	}
	items := make([]Item, len(b.items))
	copy(items, b.items)
	return &PrintJob{Config: b.config, items: items}, nil
}

// Normalize merges adjacent Text and Rule items into single Text items and
// turns line feeds embedded in Text into LineBreak items. Two sequences that
// print the same bytes normalize to the same value.
func Normalize(items []Item) []Item {
	var out []Item
	var pending strings.Builder
	hasText := false

	flush := func() {
		if hasText {
			out = append(out, Text(pending.String()))
			pending.Reset()
			hasText = false
		}
	}

	for _, it := range items {
		switch v := it.(type) {
		case Text:
			for i, part := range strings.Split(string(v), "\n") {
				if i > 0 {
					flush()
					out = append(out, LineBreak{})
				}
				if part != "" {
					pending.WriteString(part)
					hasText = true
				}
			}
		case Rule:
			if s := v.String(); s != "" {
				pending.WriteString(s)
				hasText = true
			}
		case LineBreak:
			flush()
			out = append(out, LineBreak{})
		}
	}
	flush()
	return out
}
