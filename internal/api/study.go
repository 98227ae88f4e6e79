package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jwhahn/studydesk/internal/dispatch"
	"github.com/jwhahn/studydesk/internal/notes"
	"github.com/jwhahn/studydesk/internal/qacache"
)

type quizRequest struct {
	Action        string   `json:"action"` // quiz_all, quiz_selected, quiz_weakness, quiz_file
	SelectedFiles []string `json:"selected_files"`
	File          string   `json:"file"`
}

func handleQuiz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req quizRequest
		if !decodeBody(w, r, &req) {
			return
		}
		user := userID(r)

		var (
			key     string
			kind    qacache.Kind
			label   string
			compute qacache.ComputeFunc
		)
		switch req.Action {
		case "quiz_all", "":
			kind = qacache.KindQuizAll
			key = qacache.Key(kind)
			label = "Quiz over all files"
			compute = func(ctx context.Context) (string, error) {
				material, err := deps.Texts.Aggregate(ctx, user)
				if err != nil {
					return "", err
				}
				return generateQuiz(ctx, deps, material)
			}

		case "quiz_selected":
			if len(req.SelectedFiles) == 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "selected_files is required for quiz_selected")
				return
			}
			kind = qacache.KindQuizSelected
			key = qacache.KeyForFiles(kind, req.SelectedFiles)
			label = fmt.Sprintf("Quiz over %d selected files", len(req.SelectedFiles))
			compute = func(ctx context.Context) (string, error) {
				material, err := deps.Texts.AggregateSelected(ctx, user, req.SelectedFiles)
				if err != nil {
					return "", err
				}
				return generateQuiz(ctx, deps, material)
			}

		case "quiz_file":
			if req.File == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required for quiz_file")
				return
			}
			kind = qacache.KindQuizFile
			key = qacache.Key(kind, req.File)
			label = "Quiz over " + req.File
			compute = func(ctx context.Context) (string, error) {
				material, err := deps.Texts.AggregateSelected(ctx, user, []string{req.File})
				if err != nil {
					return "", err
				}
				return generateQuiz(ctx, deps, material)
			}

		case "quiz_weakness":
			entries, err := deps.Notes.List(user)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "server_error", "loading notes: %v", err)
				return
			}
			if len(entries) == 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "no recorded mistakes to target")
				return
			}
			contents := noteContents(entries)
			kind = qacache.KindQuizWeakness
			key = qacache.Key(kind, contents...)
			label = "Quiz targeting weak topics"
			compute = func(ctx context.Context) (string, error) {
				material, err := deps.Texts.Aggregate(ctx, user)
				if err != nil {
					return "", err
				}
				p := deps.Prompts.QuizWeakness(material, contents)
				return deps.Generator.Generate(ctx, p.System, p.User)
			}

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown quiz action %q", req.Action)
			return
		}

		answer, cached, err := deps.Answers.GetOrCompute(r.Context(), user, key, kind, label, compute)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "generating quiz: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, answerResponse{Answer: answer, Cached: cached, Key: key})
	}
}

func generateQuiz(ctx context.Context, deps Deps, material string) (string, error) {
	if material == "" {
		return "", fmt.Errorf("no readable course material")
	}
	p := deps.Prompts.Quiz(material)
	return deps.Generator.Generate(ctx, p.System, p.User)
}

type gradeRequest struct {
	QuizKey string `json:"quiz_key"`
	Answers string `json:"answers"`
}

func handleGradeQuiz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gradeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.QuizKey == "" || req.Answers == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "quiz_key and answers are required")
			return
		}

		user := userID(r)
		quiz, ok, err := deps.Answers.Lookup(user, req.QuizKey)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "cache lookup: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "no quiz cached under %q", req.QuizKey)
			return
		}

		key := qacache.Key(qacache.KindGradeQuiz, req.QuizKey, req.Answers)
		report, cached, err := deps.Answers.GetOrCompute(r.Context(), user, key, qacache.KindGradeQuiz,
			"Grading for "+quiz.Label,
			func(ctx context.Context) (string, error) {
				p := deps.Prompts.Grade(quiz.Answer, req.Answers)
				return deps.Generator.Generate(ctx, p.System, p.User)
			})
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "grading quiz: %v", err)
			return
		}

		// A freshly graded quiz lands in the note log for later review.
		if !cached {
			if _, err := deps.Notes.Append(user, report); err != nil {
				deps.Logger.Error("appending grading note failed", "user", user, "error", err)
			}
		}

		writeJSON(w, http.StatusOK, answerResponse{Answer: report, Cached: cached, Key: key})
	}
}

type analysisRequest struct {
	Action string `json:"action"` // extract_all or analyze_weakness
}

func handleAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analysisRequest
		if !decodeBody(w, r, &req) {
			return
		}
		user := userID(r)

		var (
			key     string
			kind    qacache.Kind
			label   string
			compute qacache.ComputeFunc
		)
		switch req.Action {
		case "extract_all":
			kind = qacache.KindExtractAll
			key = qacache.Key(kind)
			label = "Study guide over all files"
			compute = func(ctx context.Context) (string, error) {
				material, err := deps.Texts.Aggregate(ctx, user)
				if err != nil {
					return "", err
				}
				if material == "" {
					return "", fmt.Errorf("no readable course material")
				}
				p := deps.Prompts.ExtractAll(material)
				return deps.Generator.Generate(ctx, p.System, p.User)
			}

		case "analyze_weakness":
			entries, err := deps.Notes.List(user)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "server_error", "loading notes: %v", err)
				return
			}
			if len(entries) == 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "no recorded mistakes to analyze")
				return
			}
			contents := noteContents(entries)
			kind = qacache.KindAnalyzeWeakness
			key = qacache.Key(kind, contents...)
			label = "Weakness analysis"
			compute = func(ctx context.Context) (string, error) {
				p := deps.Prompts.AnalyzeWeakness(contents)
				return deps.Generator.Generate(ctx, p.System, p.User)
			}

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown analysis action %q", req.Action)
			return
		}

		answer, cached, err := deps.Answers.GetOrCompute(r.Context(), user, key, kind, label, compute)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "running analysis: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, answerResponse{Answer: answer, Cached: cached, Key: key})
	}
}

type correlationRequest struct {
	SelectedFiles []string `json:"selected_files"`
}

type correlationResponse struct {
	Status string `json:"status"` // processing, complete, failed
	Key    string `json:"key"`
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleCorrelation builds a cross-file concept map in the background.
// Clients poll by re-POSTing the same selection; once the answer is cached
// the response flips to complete.
func handleCorrelation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req correlationRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.SelectedFiles) < 2 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "correlation needs at least two files")
			return
		}

		user := userID(r)
		key := qacache.KeyForFiles(qacache.KindMindmap, req.SelectedFiles)

		if e, ok, err := deps.Answers.Lookup(user, key); err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "cache lookup: %v", err)
			return
		} else if ok {
			writeJSON(w, http.StatusOK, correlationResponse{Status: "complete", Key: key, Answer: e.Answer})
			return
		}

		if st, ok := deps.Tasks.Lookup(user, key); ok && st.State == dispatch.StateFailed {
			// Report the failure once and clear the registry entry so the
			// next poll starts a fresh attempt.
			deps.Tasks.Forget(user, key)
			writeJSON(w, http.StatusOK, correlationResponse{Status: "failed", Key: key, Error: st.Error})
			return
		}

		files := req.SelectedFiles
		deps.Tasks.Dispatch(user, key, "correlation", func(ctx context.Context) error {
			material, err := deps.Texts.AggregateSelected(ctx, user, files)
			if err != nil {
				return err
			}
			if material == "" {
				return fmt.Errorf("no readable text in selection")
			}
			p := deps.Prompts.Correlation(material)
			answer, err := deps.Generator.Generate(ctx, p.System, p.User)
			if err != nil {
				return err
			}
			return deps.Answers.Put(user, key, qacache.KindMindmap,
				fmt.Sprintf("Concept map over %d files", len(files)), answer)
		})

		writeJSON(w, http.StatusAccepted, correlationResponse{Status: "processing", Key: key})
	}
}

func noteContents(entries []notes.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}
