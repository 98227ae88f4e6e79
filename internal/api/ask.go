package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jwhahn/studydesk/internal/gemini"
	"github.com/jwhahn/studydesk/internal/qacache"
)

type askRequest struct {
	Question string `json:"question"`
}

type answerResponse struct {
	Answer string `json:"answer"`
	Cached bool   `json:"cached"`
	Key    string `json:"key"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Question = strings.TrimSpace(req.Question)
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		user := userID(r)
		key := qacache.Key(qacache.KindAsk, req.Question)
		answer, cached, err := deps.Answers.GetOrCompute(r.Context(), user, key, qacache.KindAsk, req.Question,
			func(ctx context.Context) (string, error) {
				material, err := deps.Texts.Aggregate(ctx, user)
				if err != nil {
					return "", err
				}
				p := deps.Prompts.Ask(req.Question, material)
				return deps.Generator.Generate(ctx, p.System, p.User)
			})
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "generating answer: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, answerResponse{Answer: answer, Cached: cached, Key: key})
	}
}

// handleAskStream answers over SSE. A cache hit is replayed as a single
// event; a miss streams model fragments as they arrive and writes the
// assembled answer through only after the stream completes.
func handleAskStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Question = strings.TrimSpace(req.Question)
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		user := userID(r)
		key := qacache.Key(qacache.KindAsk, req.Question)

		if e, ok, err := deps.Answers.Lookup(user, key); err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "cache lookup: %v", err)
			return
		} else if ok {
			sse := startSSE(w)
			if sse == nil {
				return
			}
			sse.event(e.Answer)
			sse.done()
			return
		}

		material, err := deps.Texts.Aggregate(r.Context(), user)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "aggregating material: %v", err)
			return
		}
		p := deps.Prompts.Ask(req.Question, material)

		body, err := deps.Generator.StreamGenerate(r.Context(), p.System, p.User)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "starting stream: %v", err)
			return
		}
		defer body.Close()

		sse := startSSE(w)
		if sse == nil {
			return
		}

		dec := gemini.NewStreamDecoder(body)
		for {
			chunk, err := dec.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				deps.Logger.Error("stream read failed", "user", user, "error", err)
				sse.fail("upstream read error")
				return
			}
			sse.event(chunk)
		}
		sse.done()

		// Failed or interrupted streams never reach this point, so partial
		// answers are never cached.
		if err := deps.Answers.Put(user, key, qacache.KindAsk, req.Question, dec.Full()); err != nil {
			deps.Logger.Error("caching streamed answer failed", "user", user, "key", key, "error", err)
		}
	}
}

type chatRequest struct {
	Question string   `json:"question"`
	History  []string `json:"history"`
}

// handleChat answers a history-bearing turn. Responses depend on the
// conversation, so nothing is cached.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Question = strings.TrimSpace(req.Question)
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		user := userID(r)
		material, err := deps.Texts.Aggregate(r.Context(), user)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "aggregating material: %v", err)
			return
		}

		p := deps.Prompts.Chat(req.Question, material, req.History)
		answer, err := deps.Generator.Generate(r.Context(), p.System, p.User)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "generating answer: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, answerResponse{Answer: answer})
	}
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func startSSE(w http.ResponseWriter) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "server_error", "streaming not supported")
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) event(text string) {
	payload, _ := json.Marshal(text) // strings cannot fail to marshal
	fmt.Fprintf(s.w, "data: {\"text\":%s}\n\n", payload)
	s.flusher.Flush()
}

func (s *sseWriter) fail(msg string) {
	fmt.Fprintf(s.w, "data: {\"error\":%q}\n\n", msg)
	s.flusher.Flush()
}

func (s *sseWriter) done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}
