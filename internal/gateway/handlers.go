package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"courier/internal/agent"
	"courier/internal/session"
)

type chatRequest struct {
	SessionID string `json:"sessionId"`
	AgentName string `json:"agentName"`
	Message   string `json:"message"`
}

type messageResponse struct {
	SessionID string `json:"sessionId"`
	AgentName string `json:"agentName"`
	Message   string `json:"message"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.catalog.Descriptors()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if req.AgentName == "" {
		writeError(w, http.StatusBadRequest, "agentName is required", "")
		return
	}

	id, entry, err := s.sessions.GetOrCreate(req.AgentName, req.SessionID)
	if err != nil {
		var unknown *agent.UnknownAgentError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start session", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId": id,
		"agentName": entry.AgentName,
		"message":   "session started",
	})
}

// resolveTarget applies the dispatch policy shared by the message and stream
// paths: an existing session wins and keeps its stored agent binding; else
// an agent name creates a session (honoring a caller-supplied id as the new
// key); else there is no target. It runs before any response bytes go out,
// so failures here are still plain HTTP errors.
func (s *Server) resolveTarget(req chatRequest) (string, *session.Entry, error) {
	if req.SessionID != "" {
		if entry, ok := s.sessions.Lookup(req.SessionID); ok {
			return req.SessionID, entry, nil
		}
	}
	if req.AgentName != "" {
		return s.sessions.GetOrCreate(req.AgentName, req.SessionID)
	}
	return "", nil, errMissingTarget
}

var errMissingTarget = errors.New("either sessionId of an existing session or agentName is required")

// echoSessionID preserves the caller's original token in responses when one
// was supplied; the generated id is used only when the caller sent none.
func echoSessionID(requested, resolved string) string {
	if requested != "" {
		return requested
	}
	return resolved
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required", "")
		return
	}

	id, entry, err := s.resolveTarget(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	response, err := entry.Chat.Send(r.Context(), req.Message)
	if err != nil {
		slog.Error("agent request failed", "session_id", id, "agent", entry.AgentName, "error", err)
		writeError(w, http.StatusInternalServerError, "agent request failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		SessionID: echoSessionID(req.SessionID, id),
		AgentName: entry.AgentName,
		Message:   req.Message,
		Response:  response,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handleStream drives the streaming relay. Validation and session resolution
// happen before the transport is switched to event-stream mode, so their
// failures are ordinary 400s. After the upgrade every failure becomes a
// terminal error frame; the SSEWriter guarantees nothing follows it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required", "")
		return
	}

	id, entry, err := s.resolveTarget(req)
	if err != nil {
		var unknown *agent.UnknownAgentError
		if errors.As(err, &unknown) || errors.Is(err, errMissingTarget) {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve session", err.Error())
		return
	}

	sse := NewSSEWriter(w)
	sse.Send(agent.Event{
		Type:      agent.EventStart,
		SessionID: echoSessionID(req.SessionID, id),
		AgentName: entry.AgentName,
	})

	err = entry.Chat.Stream(r.Context(), req.Message, func(ev agent.Event) {
		sse.Send(ev)
	})
	if err != nil {
		slog.Error("stream failed", "session_id", id, "agent", entry.AgentName, "error", err)
		sse.Send(agent.Event{Type: agent.EventError, Error: err.Error()})
		return
	}
	sse.Send(agent.Event{Type: agent.EventEnd})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	if !s.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session " + id + " deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
