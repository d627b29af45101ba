// Package streaming holds the provider-agnostic plumbing behind IR
// streams: a generic SSE line parser usable by any backend/frontend that
// hasn't already hardcoded its own event framing, and the
// single-producer/single-consumer chunk relay described in spec §4.7
// (ordering, cancellation, streamMode deltas/accumulated).
package streaming

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Event is one parsed Server-Sent Event.
type Event struct {
	Name string // the "event:" field, if any
	Data string // the "data:" field(s), newline-joined
	ID   string
}

// SSEParser reads framed SSE events off r one at a time. Grounded on the
// field-based scanner in the reference pack's providerutils streaming
// helper, generalized for reuse by any adapter that speaks plain
// field: value SSE rather than a provider-specific shape.
type SSEParser struct {
	scanner *bufio.Scanner
	done    bool
}

// NewSSEParser wraps r in a line-oriented SSE parser.
func NewSSEParser(r io.Reader) *SSEParser {
	return &SSEParser{scanner: bufio.NewScanner(r)}
}

// Next returns the next event, or io.EOF once the stream is exhausted.
func (p *SSEParser) Next() (*Event, error) {
	if p.done {
		return nil, io.EOF
	}

	event := &Event{}
	var dataLines []string

	for p.scanner.Scan() {
		line := p.scanner.Text()

		if line == "" {
			if len(dataLines) > 0 || event.Name != "" {
				event.Data = strings.Join(dataLines, "\n")
				return event, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment / keep-alive
		}

		colon := strings.Index(line, ":")
		if colon == -1 {
			continue
		}
		field, value := line[:colon], line[colon+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		switch field {
		case "event":
			event.Name = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			event.ID = value
		}
	}

	if err := p.scanner.Err(); err != nil {
		p.done = true
		return nil, fmt.Errorf("sse scan: %w", err)
	}

	p.done = true
	if len(dataLines) > 0 || event.Name != "" {
		event.Data = strings.Join(dataLines, "\n")
		return event, nil
	}
	return nil, io.EOF
}

// IsDoneSentinel reports whether data is OpenAI-style terminal marker.
func IsDoneSentinel(data string) bool {
	return strings.TrimSpace(data) == "[DONE]"
}
