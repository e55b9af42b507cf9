package ai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// errStreamDone is returned by an SSE handler to stop reading early.
var errStreamDone = errors.New("ai: stream done")

// sseEvent is one server-sent event. Multi-line data fields are joined with
// "\n" per the event-stream format.
type sseEvent struct {
	Event string
	Data  string
}

// readSSE parses a text/event-stream body and calls fn for every event that
// carries data. Returning errStreamDone from fn ends the stream cleanly.
func readSSE(r io.Reader, fn func(sseEvent) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var ev sseEvent
	var data []string

	dispatch := func() error {
		if len(data) == 0 {
			ev = sseEvent{}
			return nil
		}
		ev.Data = strings.Join(data, "\n")
		err := fn(ev)
		ev = sseEvent{}
		data = data[:0]
		return err
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				if errors.Is(err, errStreamDone) {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			ev.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	// Flush a final event that was not followed by a blank line.
	if err := dispatch(); err != nil && !errors.Is(err, errStreamDone) {
		return err
	}
	return nil
}
