package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"courier/internal/agent"
	"courier/internal/session"
)

type stubChat struct {
	reply     string
	sendErr   error
	events    []agent.Event
	streamErr error
}

func (c *stubChat) Send(_ context.Context, _ string) (string, error) {
	return c.reply, c.sendErr
}

func (c *stubChat) Stream(_ context.Context, _ string, emit func(agent.Event)) error {
	for _, ev := range c.events {
		emit(ev)
	}
	return c.streamErr
}

type stubHandle struct {
	id   string
	chat *stubChat
}

func (h *stubHandle) Descriptor() agent.Descriptor {
	return agent.Descriptor{ID: h.id, DisplayName: h.id, Description: "test agent"}
}

func (h *stubHandle) NewChat(string) agent.Chat { return h.chat }

// stubCatalog serves both roles the server needs: descriptor listing and
// alias resolution for the registry.
type stubCatalog struct {
	chats map[string]*stubChat
}

func (c *stubCatalog) Descriptors() []agent.Descriptor {
	out := make([]agent.Descriptor, 0, len(c.chats))
	for id := range c.chats {
		out = append(out, agent.Descriptor{ID: id, DisplayName: id, Description: "test agent"})
	}
	return out
}

func (c *stubCatalog) Resolve(name string) (agent.Handle, error) {
	id := strings.ToLower(name)
	if id == "book-assistant" {
		id = "book"
	}
	if chat, ok := c.chats[id]; ok {
		return &stubHandle{id: id, chat: chat}, nil
	}
	return nil, &agent.UnknownAgentError{Name: name}
}

func newTestServer(catalog *stubCatalog) (*Server, *session.Registry) {
	sessions := session.NewRegistry(catalog)
	return NewServer(catalog, sessions), sessions
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return m
}

func TestHandleAgents(t *testing.T) {
	srv, _ := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"book":   {reply: "a book"},
		"crypto": {reply: "a coin"},
	}})

	w := doJSON(t, srv, http.MethodGet, "/api/agents", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	agents, ok := body["agents"].([]any)
	if !ok || len(agents) != 2 {
		t.Fatalf("agents = %v, want 2 entries", body["agents"])
	}
}

func TestHandleStart(t *testing.T) {
	srv, sessions := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"book": {reply: "a book"},
	}})

	w := doJSON(t, srv, http.MethodPost, "/api/chat/start", `{"agentName":"book"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	id, _ := body["sessionId"].(string)
	if !strings.HasPrefix(id, "session-book-") {
		t.Errorf("sessionId = %q, want session-book- prefix", id)
	}
	if body["agentName"] != "book" {
		t.Errorf("agentName = %v, want book", body["agentName"])
	}
	if _, ok := sessions.Lookup(id); !ok {
		t.Error("start did not create a registry entry")
	}
}

func TestHandleStartMissingAgent(t *testing.T) {
	srv, _ := newTestServer(&stubCatalog{chats: map[string]*stubChat{}})

	w := doJSON(t, srv, http.MethodPost, "/api/chat/start", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleStartUnknownAgent(t *testing.T) {
	srv, sessions := newTestServer(&stubCatalog{chats: map[string]*stubChat{}})

	w := doJSON(t, srv, http.MethodPost, "/api/chat/start", `{"agentName":"nope"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if sessions.Len() != 0 {
		t.Error("unknown agent created a registry entry")
	}
}

func TestHandleMessageValidation(t *testing.T) {
	srv, _ := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"book": {reply: "a book"},
	}})

	// Empty message with a valid target.
	w := doJSON(t, srv, http.MethodPost, "/api/chat/message", `{"agentName":"book"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty message: status = %d, want 400", w.Code)
	}

	// Non-empty message but no target at all.
	w = doJSON(t, srv, http.MethodPost, "/api/chat/message", `{"message":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing target: status = %d, want 400", w.Code)
	}

	// Session id that does not exist and no agent name.
	w = doJSON(t, srv, http.MethodPost, "/api/chat/message", `{"sessionId":"ghost","message":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown session, no agent: status = %d, want 400", w.Code)
	}
}

func TestHandleMessageCreatesSession(t *testing.T) {
	srv, sessions := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"book": {reply: "try Dune"},
	}})

	w := doJSON(t, srv, http.MethodPost, "/api/chat/message", `{"agentName":"book","message":"recommend sci-fi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["response"] != "try Dune" {
		t.Errorf("response = %v", body["response"])
	}
	if body["agentName"] != "book" {
		t.Errorf("agentName = %v", body["agentName"])
	}
	if body["message"] != "recommend sci-fi" {
		t.Errorf("message = %v", body["message"])
	}
	if body["timestamp"] == "" {
		t.Error("timestamp missing")
	}
	if sessions.Len() != 1 {
		t.Errorf("registry holds %d sessions, want 1", sessions.Len())
	}
}

func TestHandleMessageStoredBindingWins(t *testing.T) {
	srv, _ := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"book":   {reply: "from book"},
		"crypto": {reply: "from crypto"},
	}})

	w := doJSON(t, srv, http.MethodPost, "/api/chat/message", `{"sessionId":"s1","agentName":"book","message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("first message: status = %d", w.Code)
	}

	// Same session with a different agent name still dispatches to book.
	w = doJSON(t, srv, http.MethodPost, "/api/chat/message", `{"sessionId":"s1","agentName":"crypto","message":"hello again"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("second message: status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["agentName"] != "book" {
		t.Errorf("agentName = %v, want book (stored binding wins)", body["agentName"])
	}
	if body["response"] != "from book" {
		t.Errorf("response = %v, want from book", body["response"])
	}
	if body["sessionId"] != "s1" {
		t.Errorf("sessionId = %v, want s1", body["sessionId"])
	}
}

func TestHandleMessagePreAssignedSessionID(t *testing.T) {
	srv, sessions := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"book": {reply: "ok"},
	}})

	// Both fields together pre-assign the id for a brand-new session.
	w := doJSON(t, srv, http.MethodPost, "/api/chat/message", `{"sessionId":"mine","agentName":"book","message":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["sessionId"] != "mine" {
		t.Errorf("sessionId = %v, want mine", body["sessionId"])
	}
	if _, ok := sessions.Lookup("mine"); !ok {
		t.Error("pre-assigned session id was not used as the registry key")
	}
}

func TestHandleMessageUpstreamFailure(t *testing.T) {
	srv, sessions := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"book": {sendErr: errors.New("model unavailable")},
	}})

	w := doJSON(t, srv, http.MethodPost, "/api/chat/message", `{"sessionId":"s1","agentName":"book","message":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	body := decodeBody(t, w)
	if !strings.Contains(body["details"].(string), "model unavailable") {
		t.Errorf("details = %v", body["details"])
	}

	// The session stays usable after an upstream failure.
	if _, ok := sessions.Lookup("s1"); !ok {
		t.Error("registry entry gone after upstream failure")
	}
}

// decodeFrames splits an SSE body into its JSON payloads.
func decodeFrames(t *testing.T, body string) []agent.Event {
	t.Helper()
	var events []agent.Event
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		if !strings.HasPrefix(frame, "data: ") {
			t.Fatalf("frame %q does not start with data:", frame)
		}
		var ev agent.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev); err != nil {
			t.Fatalf("decoding frame %q: %v", frame, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHandleStreamFraming(t *testing.T) {
	srv, _ := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"crypto": {events: []agent.Event{
			{Type: agent.EventContent, Content: "BTC is "},
			{Type: agent.EventToolCall, Tool: "web", Arguments: `{"action":"search","query":"BTC price"}`},
			{Type: agent.EventContent, Content: "$60k"},
		}},
	}})

	w := doJSON(t, srv, http.MethodPost, "/api/chat/stream", `{"agentName":"crypto","message":"price of BTC"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := decodeFrames(t, w.Body.String())
	if len(events) != 5 {
		t.Fatalf("got %d frames, want 5: %+v", len(events), events)
	}

	first := events[0]
	if first.Type != agent.EventStart || first.AgentName != "crypto" || first.SessionID == "" {
		t.Errorf("first frame = %+v, want start with sessionId and agentName", first)
	}

	wantOrder := []agent.EventType{agent.EventContent, agent.EventToolCall, agent.EventContent}
	for i, want := range wantOrder {
		if events[i+1].Type != want {
			t.Errorf("frame %d type = %s, want %s", i+1, events[i+1].Type, want)
		}
	}

	terminals := 0
	for _, ev := range events {
		if ev.Type == agent.EventEnd || ev.Type == agent.EventError {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("got %d terminal frames, want exactly 1", terminals)
	}
	if events[len(events)-1].Type != agent.EventEnd {
		t.Errorf("last frame = %+v, want end", events[len(events)-1])
	}
}

func TestHandleStreamUpstreamError(t *testing.T) {
	srv, _ := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"crypto": {
			events:    []agent.Event{{Type: agent.EventContent, Content: "partial"}},
			streamErr: errors.New("stream broke"),
		},
	}})

	w := doJSON(t, srv, http.MethodPost, "/api/chat/stream", `{"agentName":"crypto","message":"hi"}`)
	events := decodeFrames(t, w.Body.String())

	last := events[len(events)-1]
	if last.Type != agent.EventError || !strings.Contains(last.Error, "stream broke") {
		t.Errorf("last frame = %+v, want error frame", last)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Type == agent.EventEnd || ev.Type == agent.EventError {
			t.Errorf("terminal frame before the end of the stream: %+v", ev)
		}
	}
}

func TestHandleStreamValidation(t *testing.T) {
	srv, _ := newTestServer(&stubCatalog{chats: map[string]*stubChat{}})

	// Pre-stream failures are plain 400s, not event frames.
	w := doJSON(t, srv, http.MethodPost, "/api/chat/stream", `{"agentName":"nope","message":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown agent: status = %d, want 400", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/chat/stream", `{"agentName":"nope"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty message: status = %d, want 400", w.Code)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/chat/stream", `{"message":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing target: status = %d, want 400", w.Code)
	}
}

func TestHandleSessions(t *testing.T) {
	srv, sessions := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"book": {reply: "ok"},
	}})

	if _, _, err := sessions.GetOrCreate("book", "s1"); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodGet, "/api/chat/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	list, ok := body["sessions"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("sessions = %v", body["sessions"])
	}
	entry := list[0].(map[string]any)
	if entry["sessionId"] != "s1" || entry["agentName"] != "book" || entry["createdAt"] == "" {
		t.Errorf("listed entry = %v", entry)
	}
}

func TestHandleDeleteSession(t *testing.T) {
	srv, sessions := newTestServer(&stubCatalog{chats: map[string]*stubChat{
		"book": {reply: "ok"},
	}})

	if _, _, err := sessions.GetOrCreate("book", "s1"); err != nil {
		t.Fatal(err)
	}

	// Nonexistent id: 404, size unchanged.
	w := doJSON(t, srv, http.MethodDelete, "/api/chat/sessions/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if sessions.Len() != 1 {
		t.Errorf("registry size changed on failed delete: %d", sessions.Len())
	}

	// Existing id: removed, subsequent lookup absent.
	w = doJSON(t, srv, http.MethodDelete, "/api/chat/sessions/s1", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if sessions.Len() != 0 {
		t.Errorf("registry holds %d entries after delete", sessions.Len())
	}
	if _, ok := sessions.Lookup("s1"); ok {
		t.Error("lookup found the deleted session")
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(&stubCatalog{chats: map[string]*stubChat{}})

	w := doJSON(t, srv, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "OK" || body["timestamp"] == "" {
		t.Errorf("health body = %v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(&stubCatalog{chats: map[string]*stubChat{}})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/message", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}
