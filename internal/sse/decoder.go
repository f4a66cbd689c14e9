// Package sse decodes text/event-stream response bodies into discrete events.
//
// The framing follows the standard convention used by the gateway: blocks of
// lines terminated by a blank line, `event:` naming the event (default
// "message") and one or more `data:` lines concatenated verbatim into the
// payload. Payloads are parsed as JSON when possible and passed through as
// raw strings otherwise, so a single malformed frame never aborts an
// otherwise healthy stream.
package sse

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// Event is one decoded server-sent event.
type Event struct {
	Name string
	Data any
}

// blockSep terminates an event block.
var blockSep = []byte("\n\n")

// Decoder incrementally parses an event stream. It is pull-based: each call
// to Next reads from the underlying reader until a complete blank-line
// terminated block is buffered, then returns it as a single event.
//
// Buffering happens on raw bytes and blocks are only ever split on ASCII
// newlines, so chunk boundaries that land inside a multi-byte UTF-8
// sequence are harmless.
type Decoder struct {
	r    io.Reader
	buf  []byte
	read []byte
	err  error
}

// NewDecoder creates a decoder reading from r. The decoder does not close r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, read: make([]byte, 4096)}
}

// Next returns the next event in the stream. It returns io.EOF once the
// underlying reader is exhausted; a trailing block without a terminating
// blank line is discarded, not emitted. Any other error comes from the
// underlying reader.
func (d *Decoder) Next() (Event, error) {
	for {
		if idx := bytes.Index(d.buf, blockSep); idx != -1 {
			raw := d.buf[:idx]
			d.buf = d.buf[idx+len(blockSep):]
			if ev, ok := parseBlock(raw); ok {
				return ev, nil
			}
			continue
		}

		if d.err != nil {
			return Event{}, d.err
		}

		n, err := d.r.Read(d.read)
		if n > 0 {
			d.buf = append(d.buf, d.read[:n]...)
		}
		if err != nil {
			// Keep draining buffered blocks before surfacing the error.
			d.err = err
		}
	}
}

// parseBlock decodes one blank-line delimited block. Blocks that carry no
// data are skipped entirely (ok == false).
func parseBlock(raw []byte) (Event, bool) {
	name := "message"
	var data strings.Builder

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, " \t\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
		}
	}

	if data.Len() == 0 {
		return Event{}, false
	}
	return Event{Name: name, Data: parsePayload(data.String())}, true
}

// parsePayload attempts JSON decoding, falling back to the raw string.
func parsePayload(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
