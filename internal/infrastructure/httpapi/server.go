// Package httpapi is the thin REST surface over the extraction core: every
// handler only marshals/unmarshals and delegates to the coordinator or
// storage engine, carrying no business logic of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/colmap/colmap/internal/application/coordinator"
	"github.com/colmap/colmap/internal/application/llm"
	"github.com/colmap/colmap/internal/infrastructure/broadcast"
	"github.com/colmap/colmap/internal/infrastructure/storage"
)

// Server wires the REST surface to the extraction core.
type Server struct {
	store   *storage.Store
	coord   *coordinator.Coordinator
	hub     *broadcast.Hub
	llm     *llm.Client
	logger  *slog.Logger
	jwtKey  []byte
	router  chi.Router
}

func NewServer(store *storage.Store, coord *coordinator.Coordinator, hub *broadcast.Hub, llmClient *llm.Client, jwtKey string, logger *slog.Logger) *Server {
	s := &Server{store: store, coord: coord, hub: hub, llm: llmClient, logger: logger, jwtKey: []byte(jwtKey)}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects", s.handleListProjects)
		r.Delete("/projects/{projectID}", s.handleDeleteProject)

		r.Post("/projects/{projectID}/fields", s.handleCreateField)
		r.Patch("/projects/{projectID}/fields/{fieldID}", s.handleUpdateField)
		r.Delete("/projects/{projectID}/fields/{fieldID}", s.handleDeleteField)
		r.Post("/projects/{projectID}/fields/{fieldID}/restore", s.handleRestoreField)

		r.Post("/projects/{projectID}/tasks", s.handleSubmitTask)
		r.Get("/tasks/{taskID}", s.handleGetTask)
		r.Get("/tasks/{taskID}/stream", s.handleStreamTask)
		r.Post("/tasks/{taskID}/pause", s.handlePauseTask)
		r.Post("/tasks/{taskID}/resume", s.handleResumeTask)
		r.Post("/tasks/{taskID}/cancel", s.handleCancelTask)

		r.Get("/projects/{projectID}/records", s.handleQueryRecords)
		r.Get("/projects/{projectID}/records/export", s.handleExportRecords)

		r.Post("/ai-configs/{aiConfigID}/test", s.handleTestAIConfig)
	})

	s.router = r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

type contextKey string

const subjectKey contextKey = "subject"

// authenticate validates a bearer JWT and stashes its subject claim in the
// request context under subjectKey.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		tokenStr := header[len(prefix):]

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return s.jwtKey, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		claims, _ := token.Claims.(jwt.MapClaims)
		subject, _ := claims["sub"].(string)

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { return uuid.NewString() }
