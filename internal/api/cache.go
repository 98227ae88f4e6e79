package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jwhahn/studydesk/internal/storage"
)

func handleListCache(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buckets, err := deps.Answers.Categorize(userID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "listing cache: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, buckets)
	}
}

func handleDeleteCache(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if err := deps.Answers.Delete(userID(r), key); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "no cache entry %q", key)
				return
			}
			httpError(w, http.StatusInternalServerError, "server_error", "deleting entry: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": key})
	}
}

type addNoteRequest struct {
	Content string `json:"content"`
}

func handleListNotes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Notes.List(userID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "listing notes: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": entries})
	}
}

func handleAddNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addNoteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Content = strings.TrimSpace(req.Content)
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		entry, err := deps.Notes.Append(userID(r), req.Content)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "saving note: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func handleDeleteNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Notes.DeleteByID(userID(r), id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "no note %q", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "server_error", "deleting note: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
	}
}
