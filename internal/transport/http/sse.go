package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// sseSink adapts an http.ResponseWriter into the coordinator's push channel.
// Events are written in text/event-stream framing with the event name folded
// into the JSON payload as "type", the way the browser client expects them.
//
// Delivery is best-effort: after the first write failure the sink latches
// dead and every later Send returns immediately without touching the
// connection.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu   sync.Mutex
	dead bool
}

func newSSESink(w http.ResponseWriter) (*sseSink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseSink{w: w, flusher: flusher}, true
}

func (s *sseSink) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return fmt.Errorf("sse client gone")
	}

	body := map[string]any{"type": event}
	if m, ok := payload.(map[string]any); ok {
		for k, v := range m {
			body[k] = v
		}
	} else if payload != nil {
		body["data"] = payload
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		s.dead = true
		return err
	}
	s.flusher.Flush()
	return nil
}
