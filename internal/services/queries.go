package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/scoreflow/internal/gcp"
	"github.com/Lllllllleong/scoreflow/internal/jobstore"
	"github.com/Lllllllleong/scoreflow/internal/models"
)

// URLSigner issues temporary download links for stored objects.
type URLSigner interface {
	Sign(bucket, name string, ttl time.Duration) (string, error)
}

// QueryConfig bounds result pagination and signed links.
type QueryConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	SignedURLTTL    time.Duration
}

// JobQueries is the owner-scoped read and delete API over stored jobs.
type JobQueries struct {
	store  jobstore.Store
	signer URLSigner
	config QueryConfig
}

func NewJobQueries(store jobstore.Store, signer URLSigner, config QueryConfig) *JobQueries {
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = 10
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = 100
	}
	if config.SignedURLTTL <= 0 {
		config.SignedURLTTL = 15 * time.Minute
	}
	return &JobQueries{store: store, signer: signer, config: config}
}

// Get returns the job if owner owns it.
func (q *JobQueries) Get(ctx context.Context, owner, jobID string) (*models.Job, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != owner {
		return nil, ErrUnauthorized
	}
	return job, nil
}

// Results returns the job with one page of its results. pageSize 0 selects the default.
func (q *JobQueries) Results(ctx context.Context, owner, jobID string, pageSize int, cursor string) (*models.SolutionResponse, error) {
	if pageSize == 0 {
		pageSize = q.config.DefaultPageSize
	}
	if pageSize < 1 || pageSize > q.config.MaxPageSize {
		return nil, fmt.Errorf("%w: page_size must be between 1 and %d", ErrInvalidInput, q.config.MaxPageSize)
	}
	job, err := q.Get(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	pages, next, err := q.store.PaginateResults(ctx, jobID, pageSize, cursor)
	if err != nil {
		return nil, err
	}
	resp := &models.SolutionResponse{Job: job, Results: pages}
	if next != "" {
		resp.NextCursor = &next
	}
	return resp, nil
}

// List returns the owner's jobs, newest first.
func (q *JobQueries) List(ctx context.Context, owner string) ([]*models.Job, error) {
	jobs, err := q.store.ListForOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	return jobs, nil
}

// Delete removes one of the owner's jobs together with its results.
func (q *JobQueries) Delete(ctx context.Context, owner, jobID string) error {
	if _, err := q.Get(ctx, owner, jobID); err != nil {
		return err
	}
	return q.store.Delete(ctx, jobID)
}

// DeleteAll removes every job the owner has and returns how many were deleted.
func (q *JobQueries) DeleteAll(ctx context.Context, owner string) (int, error) {
	return q.store.DeleteAllForOwner(ctx, owner)
}

// SourceURL returns a temporary link to the job's original upload.
func (q *JobQueries) SourceURL(ctx context.Context, owner, jobID string) (string, error) {
	if q.signer == nil {
		return "", errors.New("source links are not available")
	}
	job, err := q.Get(ctx, owner, jobID)
	if err != nil {
		return "", err
	}
	bucket, name, err := gcp.ParseObjectRef(job.FileGCSPath)
	if err != nil {
		return "", fmt.Errorf("job %s has an unusable source reference: %w", jobID, err)
	}
	return q.signer.Sign(bucket, name, q.config.SignedURLTTL)
}
