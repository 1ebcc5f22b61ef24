package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebUnknownAction(t *testing.T) {
	w := NewWeb("")
	_, err := w.Execute(context.Background(), `{"action":"teleport"}`)
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestWebInvalidInput(t *testing.T) {
	w := NewWeb("")
	_, err := w.Execute(context.Background(), `not json`)
	if err == nil {
		t.Fatal("expected error for invalid JSON input")
	}
}

func TestWebSearchRequiresQuery(t *testing.T) {
	w := NewWeb("")
	_, err := w.Execute(context.Background(), `{"action":"search"}`)
	if err == nil {
		t.Fatal("expected error for search without query")
	}
}

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>BTC is at $60k</p></body></html>")
	}))
	defer srv.Close()

	w := NewWeb("")
	out, err := w.Execute(context.Background(), `{"action":"fetch","url":"`+srv.URL+`"}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "BTC is at $60k") {
		t.Errorf("fetched text = %q", out)
	}
	if strings.Contains(out, "<p>") {
		t.Errorf("fetched text still contains HTML tags: %q", out)
	}
}

func TestWebFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	w := NewWeb("")
	_, err := w.Execute(context.Background(), `{"action":"fetch","url":"`+srv.URL+`"}`)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestTruncate(t *testing.T) {
	long := make([]byte, maxOutputBytes+100)
	for i := range long {
		long[i] = 'a'
	}
	out := truncate(long)
	if !strings.HasSuffix(out, "(truncated)") {
		t.Error("long output not marked truncated")
	}
	if got := truncate([]byte("short")); got != "short" {
		t.Errorf("short output altered: %q", got)
	}
}
