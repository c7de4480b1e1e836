package llmclient

import (
	"bufio"
	"bytes"
	"io"
)

// maxSSELineSize bounds a single SSE line. Tool-call argument deltas can get
// large but stay well under this.
const maxSSELineSize = 1 << 20

// SSEEvent is one server-sent event from an upstream stream.
type SSEEvent struct {
	// Event is the event name, empty for bare data events.
	Event string
	// Data is the event payload with the "data:" prefix stripped.
	Data []byte
}

// SSEScanner reads server-sent events from an upstream response body.
// Multi-line data fields are joined with newlines per the SSE spec.
type SSEScanner struct {
	scanner *bufio.Scanner
	err     error
}

// NewSSEScanner wraps a stream body in an event scanner.
func NewSSEScanner(r io.Reader) *SSEScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxSSELineSize)
	return &SSEScanner{scanner: s}
}

// Next returns the next event from the stream. Returns io.EOF when the
// stream ends cleanly.
func (s *SSEScanner) Next() (SSEEvent, error) {
	if s.err != nil {
		return SSEEvent{}, s.err
	}

	var ev SSEEvent
	var data [][]byte

	for s.scanner.Scan() {
		line := s.scanner.Bytes()

		// Blank line dispatches the accumulated event.
		if len(bytes.TrimSpace(line)) == 0 {
			if len(data) > 0 || ev.Event != "" {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimSpace(line[len("data:"):]))
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte(":")):
			// Comment / keep-alive, ignore.
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.err = err
		return SSEEvent{}, err
	}

	// Stream ended mid-event: dispatch what we have, then EOF.
	s.err = io.EOF
	if len(data) > 0 || ev.Event != "" {
		ev.Data = bytes.Join(data, []byte("\n"))
		return ev, nil
	}
	return SSEEvent{}, io.EOF
}
