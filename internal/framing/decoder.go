// Package framing turns a raw byte stream into discrete JSON-RPC messages.
//
// Two framings are supported and chosen once per connection from the first
// bytes received: header framing (a Content-Length header line, a blank
// line, then exactly that many body bytes) and newline framing (one JSON
// document per line). Responses must be written back in the same framing,
// so the decoder exposes the detected mode.
package framing

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mnemo-mcp/mnemo/internal/logger"
)

var log = logger.ForComponent("framing")

type Mode int

const (
	ModeUnknown Mode = iota
	ModeHeader
	ModeLine
)

func (m Mode) String() string {
	switch m {
	case ModeHeader:
		return "header"
	case ModeLine:
		return "line"
	default:
		return "unknown"
	}
}

type Decoder struct {
	buf  []byte
	mode Mode
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Mode reports the framing detected so far. ModeUnknown until the first
// non-whitespace byte arrives.
func (d *Decoder) Mode() Mode {
	return d.mode
}

// Feed appends incoming bytes and returns every complete message now
// available, in arrival order. JSON arrays are batches and are expanded
// into their elements. A trailing partial message stays buffered for the
// next call. Malformed units are skipped, never fatal.
func (d *Decoder) Feed(data []byte) []json.RawMessage {
	d.buf = append(d.buf, data...)

	if d.mode == ModeUnknown {
		d.detect()
	}

	var msgs []json.RawMessage
	switch d.mode {
	case ModeHeader:
		msgs = d.drainHeaderFramed()
	case ModeLine:
		msgs = d.drainLines()
	}

	var out []json.RawMessage
	for _, m := range msgs {
		out = append(out, expandBatch(m)...)
	}
	return out
}

// detect picks the framing from the first non-whitespace byte: JSON
// documents open with '{' or '[', anything else is a header line.
func (d *Decoder) detect() {
	trimmed := bytes.TrimLeft(d.buf, " \t\r\n")
	if len(trimmed) == 0 {
		return
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		d.mode = ModeLine
	} else {
		d.mode = ModeHeader
	}
}

func (d *Decoder) drainHeaderFramed() []json.RawMessage {
	var msgs []json.RawMessage

	for {
		headerEnd, bodyStart := findHeaderEnd(d.buf)
		if headerEnd < 0 {
			return msgs
		}

		length, ok := parseContentLength(d.buf[:headerEnd])
		if !ok {
			// Malformed header block: skip the unit, keep the stream.
			log.Warn("skipping framed unit with missing or invalid Content-Length")
			d.buf = d.buf[bodyStart:]
			continue
		}

		if len(d.buf) < bodyStart+length {
			// Body not fully arrived; defer until more bytes come in.
			return msgs
		}

		body := make([]byte, length)
		copy(body, d.buf[bodyStart:bodyStart+length])
		d.buf = d.buf[bodyStart+length:]

		if !json.Valid(body) {
			log.Warn("dropping framed body that is not valid JSON")
			continue
		}
		msgs = append(msgs, json.RawMessage(body))
	}
}

func (d *Decoder) drainLines() []json.RawMessage {
	var msgs []json.RawMessage

	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return msgs
		}

		line := bytes.TrimRight(d.buf[:idx], "\r")
		d.buf = d.buf[idx+1:]

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if !json.Valid(line) {
			log.Warn("dropping line that is not valid JSON")
			continue
		}

		msg := make(json.RawMessage, len(line))
		copy(msg, line)
		msgs = append(msgs, msg)
	}
}

// findHeaderEnd locates the blank line terminating a header block.
// Returns the offset where headers end and where the body begins, or
// (-1, -1) when the block is still incomplete.
func findHeaderEnd(buf []byte) (headerEnd, bodyStart int) {
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		return i, i + 4
	}
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 {
		return i, i + 2
	}
	return -1, -1
}

// parseContentLength scans header lines for a case-insensitive
// Content-Length header with a valid non-negative value.
func parseContentLength(header []byte) (int, bool) {
	for _, line := range strings.Split(string(header), "\n") {
		line = strings.TrimRight(line, "\r")
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// expandBatch splits a top-level JSON array into its elements, preserving
// order. Non-arrays pass through unchanged.
func expandBatch(msg json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []json.RawMessage{msg}
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		log.Warn("dropping unparseable batch", "error", err)
		return nil
	}
	return batch
}
