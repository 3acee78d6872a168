package assistant

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}

// sseStream writes numbered JSON events to one response.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	eventID int64
}

func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseStream{w: w, flusher: flusher}, true
}

func (s *sseStream) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	s.eventID++
	if err := writeSSEWithID(s.w, s.eventID, event, string(data)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) ping() error {
	if err := writeSSE(s.w, "ping", `{"status":"alive"}`); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
