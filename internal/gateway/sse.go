package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"courier/internal/agent"
)

// SSEWriter frames chat events onto a server-sent-event channel. Every frame
// is a single "data: <JSON>" line followed by a blank line. The writer
// latches after a terminal event (end or error): once one has been sent,
// further writes are dropped.
type SSEWriter struct {
	w          http.ResponseWriter
	rc         *http.ResponseController
	terminated bool
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &SSEWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

func (s *SSEWriter) Send(ev agent.Event) error {
	if s.terminated {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	if ev.Type == agent.EventEnd || ev.Type == agent.EventError {
		s.terminated = true
	}
	return s.rc.Flush()
}
