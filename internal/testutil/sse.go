package testutil

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"

	"github.com/joyhealth/joy/internal/stream"
)

// ParseEventStream parses a turn event stream body into ordered events.
//
// The turn protocol frames each event as a single "data:" line holding one
// JSON object, terminated by a blank line. Comment lines starting with ":"
// are ignored.
//
// Example:
//
//	events := testutil.ParseEventStream(t, rec.Body.String())
//	require.Equal(t, "user-message-id", events[0].Type)
func ParseEventStream(t *testing.T, body string) []stream.Event {
	t.Helper()

	var events []stream.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			var ev stream.Event
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				t.Fatalf("event stream parse error at line %d: %v (payload %q)", lineNum, err, payload)
			}
			events = append(events, ev)

		case line == "" || strings.HasPrefix(line, ":"):
			// frame separator or comment

		default:
			t.Fatalf("event stream parse error at line %d: unexpected line %q", lineNum, line)
		}
	}

	if err := scanner.Err(); err != nil {
		t.Fatalf("event stream scan error: %v", err)
	}

	return events
}

// FindEvent returns the first event of the given type, or nil.
func FindEvent(events []stream.Event, eventType string) *stream.Event {
	for i := range events {
		if events[i].Type == eventType {
			return &events[i]
		}
	}
	return nil
}

// FindAllEvents returns all events of the given type, in order.
func FindAllEvents(events []stream.Event, eventType string) []stream.Event {
	var found []stream.Event
	for _, e := range events {
		if e.Type == eventType {
			found = append(found, e)
		}
	}
	return found
}
