// Package frame recovers complete JSON objects from an unframed serial byte
// stream. Tasmota prints diagnostic results as free-form log lines
// ("00:00:38.306 RSL: RESULT = {...}") with no message delimiter, so
// completion is detected by raw brace counting across chunks rather than by
// a JSON tokenizer. The counting is deliberately naive about braces inside
// string values; device output balances them in practice.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed reports a completed frame whose payload failed to parse as
// JSON. The accumulator resets after reporting it, so the caller may simply
// reissue the request.
var ErrMalformed = errors.New("malformed frame")

// Message is one complete JSON object recovered from the stream.
type Message struct {
	// Raw is the balanced substring, carriage returns and newlines stripped.
	Raw string
	// Fields is the decoded top-level object.
	Fields map[string]any
}

// Accumulator buffers stream chunks and tracks open/close brace counts.
// A message is complete when the counts balance after at least one open
// brace was seen. Zero value is ready to use.
type Accumulator struct {
	open  int
	close int
	buf   bytes.Buffer
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Feed appends a chunk of stream bytes and returns the messages it
// completed, in order. A chunk may complete zero, one, or several messages;
// chunk boundaries never affect the result. A completed payload that fails
// to parse surfaces ErrMalformed together with every well-formed message
// the same chunk completed; scanning always continues past the bad frame.
func (a *Accumulator) Feed(p []byte) ([]Message, error) {
	var msgs []Message
	var firstErr error

	for _, b := range p {
		if b == '{' {
			// Stray close braces left over from a partial capture must not
			// count against the message that starts here.
			if a.open == 0 {
				a.close = 0
			}
			a.open++
		} else if b == '}' {
			a.close++
		}
		a.buf.WriteByte(b)

		if a.open > 0 && a.open == a.close {
			msg, err := a.complete()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			msgs = append(msgs, msg)
		}
	}

	return msgs, firstErr
}

// Pending reports whether an unfinished message is buffered.
func (a *Accumulator) Pending() bool {
	return a.open > a.close
}

// Reset discards all accumulation state. Callers use it after imposing
// their own deadline on a stream that never balanced.
func (a *Accumulator) Reset() {
	a.open = 0
	a.close = 0
	a.buf.Reset()
}

// complete extracts and parses the balanced payload, then resets.
func (a *Accumulator) complete() (Message, error) {
	text := a.buf.String()
	a.Reset()

	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\n", "")

	// The device prefixes the object with a timestamp and tag; only the
	// first '{' through the last '}' matters.
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return Message{}, fmt.Errorf("%w: no object in %q", ErrMalformed, text)
	}
	raw := text[start : end+1]

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return Message{Raw: raw, Fields: fields}, nil
}
