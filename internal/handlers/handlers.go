// Package handlers exposes the analysis pipeline over HTTP.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Lllllllleong/scoreflow/internal/models"
	"github.com/Lllllllleong/scoreflow/internal/services"
)

// maxUploadMemory is how much of a multipart upload is buffered in memory before spilling to disk.
const maxUploadMemory = 32 << 20

// Handler serves the job, analysis and chat endpoints.
type Handler struct {
	submission *services.Submission
	queries    *services.JobQueries
	explainer  *services.Explainer
	logger     *slog.Logger
}

func NewHandler(submission *services.Submission, queries *services.JobQueries, explainer *services.Explainer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{submission: submission, queries: queries, explainer: explainer, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	jobs, err := h.queries.List(r.Context(), user.UID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) DeleteAllJobs(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	n, err := h.queries.DeleteAll(r.Context(), user.UID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.DeleteAllResponse{
		Message:      fmt.Sprintf("Deleted %d jobs successfully", n),
		DeletedCount: n,
	})
}

func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	if err := h.queries.Delete(r.Context(), user.UID, chi.URLParam(r, "jobID")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Job deleted successfully", "")
}

// Solve accepts a multipart upload in the "file" field and answers with the new job ID.
func (h *Handler) Solve(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeMessage(w, http.StatusBadRequest, "No file part in the request", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "No file part in the request", "")
		return
	}
	defer file.Close()

	jobID, err := h.submission.Submit(r.Context(), user.UID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.SubmitResponse{JobID: jobID})
}

// GetSolution returns the job with one page of results; it works at any point of processing.
func (h *Handler) GetSolution(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeMessage(w, http.StatusBadRequest, "Invalid page_size parameter.", "")
			return
		}
		pageSize = n
	}

	resp, err := h.queries.Results(r.Context(), user.UID, chi.URLParam(r, "jobID"), pageSize, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	url, err := h.queries.SourceURL(r.Context(), user.UID, chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SourceURLResponse{URL: url})
}

// Explain streams the explanation as raw text chunks, flushing after each one.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	var req models.ExplainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Bad Request: could not parse JSON", "")
		return
	}
	if req.Question == nil || req.Question.Question == "" {
		writeMessage(w, http.StatusBadRequest, "Question is required", "")
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	emit := func(chunk string) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	jobID := chi.URLParam(r, "jobID")
	err := h.explainer.Explain(r.Context(), user.UID, jobID, req.Question, req.ChatHistory, emit)
	switch {
	case err == nil:
		if !started {
			_ = emit("")
		}
	case !started:
		writeError(w, h.logger, err)
	case r.Context().Err() != nil:
		h.logger.Info("Client went away during explanation.", "jobId", jobID)
	default:
		h.logger.Error("Explanation stream aborted.", "jobId", jobID, "error", err)
	}
}
