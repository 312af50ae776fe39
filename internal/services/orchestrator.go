package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/scoreflow/internal/jobstore"
	"github.com/Lllllllleong/scoreflow/internal/models"
)

// failureWriteTimeout bounds the status write that records a job failure.
const failureWriteTimeout = 30 * time.Second

// BlobReader fetches a stored upload with its declared media type.
type BlobReader interface {
	Get(ctx context.Context, ref string) ([]byte, string, error)
}

// DocumentSplitter turns a source document into ordered page units.
type DocumentSplitter interface {
	Split(ctx context.Context, data []byte, mediaType, source string, report PageCountReporter) ([]PageUnit, error)
}

// PageAnalyzer extracts the question/answer records of one page unit.
type PageAnalyzer interface {
	Analyze(ctx context.Context, unit PageUnit) ([]models.QuestionAnswer, error)
}

// Orchestrator drives one job from its stored source to a terminal status.
type Orchestrator struct {
	store    jobstore.Store
	blobs    BlobReader
	splitter DocumentSplitter
	analyzer PageAnalyzer
	logger   *slog.Logger
}

func NewOrchestrator(store jobstore.Store, blobs BlobReader, splitter DocumentSplitter, analyzer PageAnalyzer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		blobs:    blobs,
		splitter: splitter,
		analyzer: analyzer,
		logger:   logger,
	}
}

// Run processes the job's pages strictly in order. A page whose analysis fails is stored empty;
// any other failure marks the job failed and is returned.
func (o *Orchestrator) Run(ctx context.Context, jobID, sourceRef string) (err error) {
	logCtx := o.logger.With("jobId", jobID, "source", sourceRef)
	logCtx.Info("Starting solving process.")

	defer func() {
		if r := recover(); r != nil {
			err = o.handleError(ctx, logCtx, jobID, "job processing panicked", fmt.Errorf("%v", r))
		}
	}()

	data, mediaType, err := o.blobs.Get(ctx, sourceRef)
	if err != nil {
		return o.handleError(ctx, logCtx, jobID, "failed to retrieve source file", err)
	}
	logCtx.Info("Retrieved source file.", "contentType", mediaType, "sizeBytes", len(data))

	units, err := o.splitter.Split(ctx, data, mediaType, sourceRef, func(ctx context.Context, n int) error {
		return o.store.SetPageCount(ctx, jobID, n)
	})
	if err != nil {
		return o.handleError(ctx, logCtx, jobID, "failed to split document", err)
	}

	for i, unit := range units {
		pageNumber := i + 1
		pageLog := logCtx.With("pageNumber", pageNumber)
		if err := ctx.Err(); err != nil {
			return o.handleError(ctx, logCtx, jobID, fmt.Sprintf("job stopped before page %d", pageNumber), err)
		}

		qas, err := o.analyzer.Analyze(ctx, unit)
		if err != nil {
			pageLog.Error("Failed to process page. Storing empty result.", "error", err)
			qas = []models.QuestionAnswer{}
		}
		if err := o.store.PutPageResult(ctx, jobID, pageNumber, qas); err != nil {
			return o.handleError(ctx, logCtx, jobID, fmt.Sprintf("failed to save result for page %d", pageNumber), err)
		}
		pageLog.Info("Page processed.", "questionCount", len(qas))
	}

	if err := o.store.SetStatus(ctx, jobID, models.StatusCompleted, ""); err != nil {
		return o.handleError(ctx, logCtx, jobID, "failed to mark job completed", err)
	}
	logCtx.Info("Successfully completed job.", "pageCount", len(units))
	return nil
}

// handleError records the failure on the job and returns it. The status write outlives ctx
// so a cancelled or timed-out job still reaches a terminal state.
func (o *Orchestrator) handleError(ctx context.Context, logCtx *slog.Logger, jobID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := o.store.SetStatus(writeCtx, jobID, models.StatusFailed, fullError); err != nil {
		if errors.Is(err, jobstore.ErrInvalidTransition) {
			logCtx.Warn("Job already terminal; failure not recorded.", "updateError", err)
		} else {
			logCtx.Error("CRITICAL: Failed to update job status to failed after a processing error.", "updateError", err)
		}
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}
