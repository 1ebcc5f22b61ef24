package gateway

import (
	"context"
	"net/http"

	"courier/internal/agent"
	"courier/internal/session"
)

// Catalog enumerates the agents the gateway advertises. Alias resolution
// itself goes through the session registry.
type Catalog interface {
	Descriptors() []agent.Descriptor
}

type Server struct {
	catalog  Catalog
	sessions *session.Registry
	mux      *http.ServeMux
}

func NewServer(catalog Catalog, sessions *session.Registry) *Server {
	s := &Server{
		catalog:  catalog,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/agents", s.handleAgents)
	s.mux.HandleFunc("POST /api/chat/start", s.handleStart)
	s.mux.HandleFunc("POST /api/chat/message", s.handleMessage)
	s.mux.HandleFunc("POST /api/chat/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/chat/sessions", s.handleListSessions)
	s.mux.HandleFunc("DELETE /api/chat/sessions/{sessionId}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns the full middleware-wrapped handler, for tests and custom
// servers.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
