package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nmoretto/shipdeck/internal/service"
)

type Server struct {
	svc *service.Service

	uiEnabled   bool
	uiStaticDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithUI serves the bundled single-page app from staticDir. Disabled by
// default so API-only deployments expose nothing at the root.
func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func NewServer(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		uiEnabled: false,
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks serving the API. Only the header read is bounded by
// a timeout; SSE streams stay open as long as the client does.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.requireAuth(s.handleLogout))
	s.mux.HandleFunc("/api/auth/password", s.requireAuth(s.handleChangePassword))
	s.mux.HandleFunc("/api/jobs/translate", s.requireAuth(s.handleSubmitTranslation))
	s.mux.HandleFunc("/api/jobs/shipment", s.requireAuth(s.handleSubmitShipment))
	s.mux.HandleFunc("/api/jobs", s.requireAuth(s.handleListJobs))
	s.mux.HandleFunc("/api/jobs/stream", s.requireAuth(s.handleJobsStream))
	s.mux.HandleFunc("/api/jobs/", s.requireAuth(s.handleJobRoutes))
	s.mux.HandleFunc("/api/admin/settings", s.requireAuth(s.handleSettings))
	s.mux.HandleFunc("/api/admin/stats", s.requireAuth(s.handleStats))
	s.mux.HandleFunc("/api/admin/cleanup", s.requireAuth(s.handleCleanup))
	s.mux.HandleFunc("/", s.handleStatic)
}

// requireAuth rejects requests that do not carry a valid bearer session.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		ok, err := s.svc.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
