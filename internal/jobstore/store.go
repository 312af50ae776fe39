// Package jobstore persists analysis jobs and their per-page results.
//
// A job lives at jobs/{jobID}; its page results live in the results
// subcollection keyed page_{n}. Every implementation honours the same
// consistency rules: page_count is written once, processed_pages only
// grows, and status only moves from processing to a terminal state.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/scoreflow/internal/models"
)

// DeleteBatchSize bounds the number of deletions committed together.
const DeleteBatchSize = 500

// previewJobLimit caps how many completed jobs get a first-question preview.
const previewJobLimit = 20

var (
	ErrNotFound            = errors.New("job not found")
	ErrInvalidCursor       = errors.New("invalid cursor")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPageCountAlreadySet = errors.New("page count already set")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// StoreError wraps a failure of the underlying database.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("jobstore: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Store is the persistence contract shared by the pipeline and the read APIs.
type Store interface {
	Create(ctx context.Context, owner, sourceRef string) (string, error)
	SetPageCount(ctx context.Context, jobID string, n int) error
	PutPageResult(ctx context.Context, jobID string, pageNumber int, qas []models.QuestionAnswer) error
	SetStatus(ctx context.Context, jobID string, status models.JobStatus, errorMessage string) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	ListForOwner(ctx context.Context, owner string) ([]*models.Job, error)
	PaginateResults(ctx context.Context, jobID string, pageSize int, cursor string) ([]*models.PageResult, string, error)
	Delete(ctx context.Context, jobID string) error
	DeleteAllForOwner(ctx context.Context, owner string) (int, error)
}

// PageDocID returns the result document ID for a page, which doubles as the pagination cursor.
func PageDocID(pageNumber int) string {
	return "page_" + strconv.Itoa(pageNumber)
}

// ParseCursor decodes a cursor produced by PageDocID.
func ParseCursor(cursor string) (int, error) {
	raw, ok := strings.CutPrefix(cursor, "page_")
	if !ok {
		return 0, ErrInvalidCursor
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || PageDocID(n) != cursor {
		return 0, ErrInvalidCursor
	}
	return n, nil
}

// deleteJobs deletes each job with del, at most limit at a time. A failed deletion is logged
// and skipped; the result counts only the jobs that were deleted.
func deleteJobs(ctx context.Context, ids []string, limit int, del func(ctx context.Context, jobID string) error, logger *slog.Logger) int {
	var deleted atomic.Int64
	var g errgroup.Group
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			if err := del(ctx, id); err != nil {
				logger.Warn("Failed to delete job", "jobId", id, "error", err)
				return nil
			}
			deleted.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(deleted.Load())
}

func validateTransition(from, to models.JobStatus) error {
	if from != models.StatusProcessing || !to.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func firstQuestion(qas []models.QuestionAnswer) string {
	if len(qas) == 0 {
		return ""
	}
	return qas[0].Question
}

func cloneQAs(qas []models.QuestionAnswer) []models.QuestionAnswer {
	out := make([]models.QuestionAnswer, len(qas))
	copy(out, qas)
	return out
}
