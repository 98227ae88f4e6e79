package api

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/jwhahn/studydesk/internal/library"
)

type fileListResponse struct {
	Files  []string `json:"files"`
	Cached []string `json:"cached"`
}

func handleListFiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		files, err := deps.Library.Files(user)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "listing files: %v", err)
			return
		}
		cached, err := deps.Texts.CachedFiles(user)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "listing cache: %v", err)
			return
		}
		if files == nil {
			files = []string{}
		}
		if cached == nil {
			cached = []string{}
		}
		writeJSON(w, http.StatusOK, fileListResponse{Files: files, Cached: cached})
	}
}

func handleUploadFiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "parsing upload: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := r.MultipartForm.File["file"]
		if len(headers) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no file parts in upload")
			return
		}

		user := userID(r)
		var saved []string
		for _, fh := range headers {
			name, err := library.Sanitize(fh.Filename)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			if !library.Allowed(name) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported file type %q", name)
				return
			}
			f, err := fh.Open()
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "opening %s: %v", name, err)
				return
			}
			err = deps.Library.Save(user, name, f)
			f.Close()
			if err != nil {
				httpError(w, http.StatusInternalServerError, "server_error", "saving %s: %v", name, err)
				return
			}
			saved = append(saved, name)
		}

		deps.Logger.Info("files uploaded", "user", user, "count", len(saved))
		writeJSON(w, http.StatusCreated, map[string]any{"saved": saved})
	}
}

func handleDeleteFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		name, err := library.Sanitize(chi.URLParam(r, "name"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if err := deps.Library.Remove(user, name); err != nil {
			if os.IsNotExist(err) {
				httpError(w, http.StatusNotFound, "not_found_error", "no file named %q", name)
				return
			}
			httpError(w, http.StatusInternalServerError, "server_error", "removing file: %v", err)
			return
		}

		// The cached text goes with the file.
		if err := deps.Texts.Remove(user, name); err != nil {
			deps.Logger.Error("purging cached text failed", "user", user, "file", name, "error", err)
		}

		writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
	}
}

// handleReprocessFile forces a fresh extraction in the background, taking
// the heavy OCR path for types that have one.
func handleReprocessFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		name, err := library.Sanitize(chi.URLParam(r, "name"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		files, err := deps.Library.Files(user)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "listing files: %v", err)
			return
		}
		found := false
		for _, f := range files {
			if f == name {
				found = true
				break
			}
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found_error", "no file named %q", name)
			return
		}

		taskKey := "reprocess:" + name
		deps.Tasks.Forget(user, taskKey)
		st := deps.Tasks.Dispatch(user, taskKey, "reprocess "+name, func(ctx context.Context) error {
			res, err := deps.Texts.Get(ctx, user, name, true)
			if err != nil {
				return err
			}
			if res.Text == "" {
				return fmt.Errorf("forced extraction produced no text")
			}
			return nil
		})

		writeJSON(w, http.StatusAccepted, map[string]any{
			"file":      name,
			"state":     st.State,
			"coalesced": st.Coalesced,
		})
	}
}
