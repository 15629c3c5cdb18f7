package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// EventWriter is the transport a notification stream emits into: an
// append-only sequence of text event records with an explicit flush.
type EventWriter interface {
	// WriteEvent emits one named event record. The id is optional and
	// the data payload is serialized as JSON.
	WriteEvent(event, id string, data any) error
	// WriteComment emits an unnamed comment record, used as a
	// keep-alive.
	WriteComment() error
	// Flush pushes everything written so far to the client.
	Flush()
}

// SSEWriter writes server-sent-event records to an HTTP response. Each
// record is terminated by a blank line; comment records are a lone ":".
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter prepares a response for server-sent events. It fails if
// the underlying ResponseWriter cannot be flushed incrementally.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) WriteEvent(event, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(s.w, "data: %s\n\n", payload)

	return err
}

func (s *SSEWriter) WriteComment() error {
	_, err := io.WriteString(s.w, ":\n\n")
	return err
}

func (s *SSEWriter) Flush() {
	s.flusher.Flush()
}
