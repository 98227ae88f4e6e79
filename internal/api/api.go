// Package api exposes the study assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jwhahn/studydesk/internal/dispatch"
	"github.com/jwhahn/studydesk/internal/library"
	"github.com/jwhahn/studydesk/internal/notes"
	"github.com/jwhahn/studydesk/internal/prompts"
	"github.com/jwhahn/studydesk/internal/qacache"
	"github.com/jwhahn/studydesk/internal/textcache"
)

const maxRequestBodySize = 1 << 20 // 1MB

const maxUploadSize = 64 << 20 // 64MB

// Generator abstracts the model client for answer generation.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	StreamGenerate(ctx context.Context, system, user string) (io.ReadCloser, error)
}

// Deps holds everything the handlers need.
type Deps struct {
	Generator Generator
	Library   *library.Library
	Texts     *textcache.Manager
	Answers   *qacache.Manager
	Notes     *notes.Log
	Tasks     *dispatch.Dispatcher
	Prompts   *prompts.Builder
	Logger    *slog.Logger

	// Token guards every route except /health. Empty disables auth.
	Token string
}

// NewRouter assembles the HTTP API.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.New(0)
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/ask", handleAsk(deps))
		r.Post("/ask/stream", handleAskStream(deps))
		r.Post("/chat", handleChat(deps))

		r.Post("/quiz", handleQuiz(deps))
		r.Post("/quiz/grade", handleGradeQuiz(deps))
		r.Post("/analysis", handleAnalysis(deps))
		r.Post("/correlation", handleCorrelation(deps))

		r.Post("/files", handleUploadFiles(deps))
		r.Get("/files", handleListFiles(deps))
		r.Delete("/files/{name}", handleDeleteFile(deps))
		r.Post("/files/{name}/reprocess", handleReprocessFile(deps))

		r.Get("/cache", handleListCache(deps))
		r.Delete("/cache/{key}", handleDeleteCache(deps))

		r.Get("/notes", handleListNotes(deps))
		r.Post("/notes", handleAddNote(deps))
		r.Delete("/notes/{id}", handleDeleteNote(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
