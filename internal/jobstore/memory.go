package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/scoreflow/internal/models"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*memJob
	seq    int64
	now    func() time.Time
	logger *slog.Logger

	// deleteFn removes one job; tests replace it to inject failures.
	deleteFn func(ctx context.Context, jobID string) error
}

type memJob struct {
	job     models.Job
	seq     int64
	results map[int]models.PageResult
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		jobs:   make(map[string]*memJob),
		now:    time.Now,
		logger: slog.Default(),
	}
	s.deleteFn = s.deleteJob
	return s
}

func (s *MemoryStore) Create(_ context.Context, owner, sourceRef string) (string, error) {
	if owner == "" || sourceRef == "" {
		return "", fmt.Errorf("%w: owner and source are required", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	ts := s.now()
	s.seq++
	s.jobs[id] = &memJob{
		job: models.Job{
			ID:          id,
			UserID:      owner,
			FileGCSPath: sourceRef,
			Status:      models.StatusProcessing,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		},
		seq:     s.seq,
		results: make(map[int]models.PageResult),
	}
	return id, nil
}

func (s *MemoryStore) SetPageCount(_ context.Context, jobID string, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: page count must be positive, got %d", ErrInvalidArgument, n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.job.PageCount != 0 {
		return ErrPageCountAlreadySet
	}
	j.job.PageCount = n
	j.job.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) PutPageResult(_ context.Context, jobID string, pageNumber int, qas []models.QuestionAnswer) error {
	if pageNumber < 1 {
		return fmt.Errorf("%w: page number must be positive, got %d", ErrInvalidArgument, pageNumber)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	ts := s.now()
	j.results[pageNumber] = models.PageResult{
		PageNumber: pageNumber,
		Results:    cloneQAs(qas),
		CreatedAt:  ts,
	}
	j.job.ProcessedPages++
	j.job.UpdatedAt = ts
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, jobID string, status models.JobStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if err := validateTransition(j.job.Status, status); err != nil {
		return err
	}
	j.job.Status = status
	if status == models.StatusFailed {
		j.job.ErrorMessage = errorMessage
	}
	j.job.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	job := j.job
	return &job, nil
}

func (s *MemoryStore) ListForOwner(_ context.Context, owner string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []*memJob
	for _, j := range s.jobs {
		if j.job.UserID == owner {
			owned = append(owned, j)
		}
	}
	sort.Slice(owned, func(a, b int) bool {
		if !owned[a].job.CreatedAt.Equal(owned[b].job.CreatedAt) {
			return owned[a].job.CreatedAt.After(owned[b].job.CreatedAt)
		}
		return owned[a].seq > owned[b].seq
	})

	jobs := make([]*models.Job, 0, len(owned))
	previews := 0
	for _, j := range owned {
		job := j.job
		if job.Status == models.StatusCompleted && previews < previewJobLimit {
			previews++
			if first, ok := j.results[1]; ok {
				job.FirstQuestion = firstQuestion(first.Results)
			}
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

func (s *MemoryStore) PaginateResults(_ context.Context, jobID string, pageSize int, cursor string) ([]*models.PageResult, string, error) {
	if pageSize < 1 {
		return nil, "", fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidArgument, pageSize)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		j = &memJob{}
	}
	after := 0
	if cursor != "" {
		n, err := ParseCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		if _, exists := j.results[n]; !exists {
			return nil, "", ErrInvalidCursor
		}
		after = n
	}

	pages := make([]int, 0, len(j.results))
	for n := range j.results {
		if n > after {
			pages = append(pages, n)
		}
	}
	sort.Ints(pages)
	if len(pages) > pageSize {
		pages = pages[:pageSize]
	}

	out := make([]*models.PageResult, 0, len(pages))
	for _, n := range pages {
		r := j.results[n]
		r.Results = cloneQAs(r.Results)
		out = append(out, &r)
	}
	next := ""
	if len(out) == pageSize {
		next = PageDocID(out[len(out)-1].PageNumber)
	}
	return out, next, nil
}

func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	return s.deleteFn(ctx, jobID)
}

func (s *MemoryStore) deleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryStore) DeleteAllForOwner(ctx context.Context, owner string) (int, error) {
	s.mu.RLock()
	var ids []string
	for id, j := range s.jobs {
		if j.job.UserID == owner {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	return deleteJobs(ctx, ids, 1, s.deleteFn, s.logger), nil
}
