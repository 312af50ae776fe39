package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/scoreflow/internal/jobstore"
	"github.com/Lllllllleong/scoreflow/internal/models"
)

type orchestratorFixture struct {
	store    *jobstore.MemoryStore
	blobs    *MockBlobs
	analyzer *MockAnalyzer
	orch     *Orchestrator
}

func newOrchestratorFixture(analyze func(call int, unit PageUnit) ([]models.QuestionAnswer, error)) *orchestratorFixture {
	f := &orchestratorFixture{
		store:    jobstore.NewMemoryStore(),
		blobs:    newMockBlobs(),
		analyzer: &MockAnalyzer{AnalyzeFunc: analyze},
	}
	f.orch = NewOrchestrator(f.store, f.blobs, NewSplitter(nil), f.analyzer, nil)
	return f
}

func (f *orchestratorFixture) submit(t *testing.T, name string, data []byte, contentType string) (string, string) {
	t.Helper()
	ref := f.blobs.add(name, data, contentType)
	jobID, err := f.store.Create(context.Background(), "alice", ref)
	require.NoError(t, err)
	return jobID, ref
}

func allPages(t *testing.T, store jobstore.Store, jobID string) []*models.PageResult {
	t.Helper()
	pages, next, err := store.PaginateResults(context.Background(), jobID, 100, "")
	require.NoError(t, err)
	require.Empty(t, next)
	return pages
}

func onePerPage(call int, _ PageUnit) ([]models.QuestionAnswer, error) {
	return []models.QuestionAnswer{{Question: "q", Answer: "a", IsHomeworkProblem: call%2 == 1}}, nil
}

func TestOrchestrator_FailedPageDegradesToEmptyResult(t *testing.T) {
	f := newOrchestratorFixture(func(call int, unit PageUnit) ([]models.QuestionAnswer, error) {
		if call == 2 {
			return nil, &AnalysisError{Err: errors.New("model unavailable")}
		}
		return onePerPage(call, unit)
	})
	jobID, ref := f.submit(t, "hw.pdf", buildPDF(t, 3), "application/pdf")

	require.NoError(t, f.orch.Run(context.Background(), jobID, ref))

	job, err := f.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 3, job.PageCount)
	assert.Equal(t, 3, job.ProcessedPages)
	assert.Empty(t, job.ErrorMessage)

	pages := allPages(t, f.store, jobID)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
	}
	assert.Len(t, pages[0].Results, 1)
	assert.NotNil(t, pages[1].Results)
	assert.Empty(t, pages[1].Results)
	assert.Len(t, pages[2].Results, 1)
}

func TestOrchestrator_InvalidDocumentFailsJob(t *testing.T) {
	f := newOrchestratorFixture(onePerPage)
	jobID, ref := f.submit(t, "broken.pdf", []byte("%PDF-1.4 truncated garbage"), "application/pdf")

	err := f.orch.Run(context.Background(), jobID, ref)
	var splitErr *SplitError
	require.ErrorAs(t, err, &splitErr)

	job, err := f.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Zero(t, job.ProcessedPages)
	assert.NotEmpty(t, job.ErrorMessage)
	assert.Empty(t, allPages(t, f.store, jobID))
	assert.Zero(t, f.analyzer.calls)
}

func TestOrchestrator_ImageIsSinglePage(t *testing.T) {
	f := newOrchestratorFixture(func(_ int, unit PageUnit) ([]models.QuestionAnswer, error) {
		assert.Equal(t, KindImage, unit.Kind)
		return []models.QuestionAnswer{{Question: "What is 3x3?", Answer: "9", IsHomeworkProblem: true}}, nil
	})
	jobID, ref := f.submit(t, "photo.jpg", []byte("jpeg bytes"), "image/jpeg")

	require.NoError(t, f.orch.Run(context.Background(), jobID, ref))

	job, err := f.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.PageCount)
	assert.Equal(t, 1, job.ProcessedPages)
	pages := allPages(t, f.store, jobID)
	require.Len(t, pages, 1)
	assert.Equal(t, "What is 3x3?", pages[0].Results[0].Question)
}

func TestOrchestrator_MissingSourceFailsJob(t *testing.T) {
	f := newOrchestratorFixture(onePerPage)
	jobID, err := f.store.Create(context.Background(), "alice", "gs://test-bucket/gone.pdf")
	require.NoError(t, err)

	require.Error(t, f.orch.Run(context.Background(), jobID, "gs://test-bucket/gone.pdf"))

	job, err := f.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "failed to retrieve source file")
	assert.Zero(t, job.PageCount)
}

func TestOrchestrator_PanicIsRecordedAsFailure(t *testing.T) {
	f := newOrchestratorFixture(func(call int, unit PageUnit) ([]models.QuestionAnswer, error) {
		if call == 2 {
			panic("nil map write")
		}
		return onePerPage(call, unit)
	})
	jobID, ref := f.submit(t, "hw.pdf", buildPDF(t, 3), "application/pdf")

	err := f.orch.Run(context.Background(), jobID, ref)
	require.Error(t, err)

	job, err := f.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "panicked")
	assert.Equal(t, 1, job.ProcessedPages)
	assert.Len(t, allPages(t, f.store, jobID), 1)
}

// failingResultStore rejects page writes after the first n succeed.
type failingResultStore struct {
	*jobstore.MemoryStore
	allowed int
}

func (s *failingResultStore) PutPageResult(ctx context.Context, jobID string, pageNumber int, qas []models.QuestionAnswer) error {
	if pageNumber > s.allowed {
		return &jobstore.StoreError{Op: "put page result", Err: errors.New("unavailable")}
	}
	return s.MemoryStore.PutPageResult(ctx, jobID, pageNumber, qas)
}

func TestOrchestrator_StoreFailureKeepsPartialResults(t *testing.T) {
	mem := jobstore.NewMemoryStore()
	store := &failingResultStore{MemoryStore: mem, allowed: 2}
	blobs := newMockBlobs()
	orch := NewOrchestrator(store, blobs, NewSplitter(nil), &MockAnalyzer{AnalyzeFunc: onePerPage}, nil)

	ref := blobs.add("hw.pdf", buildPDF(t, 4), "application/pdf")
	jobID, err := mem.Create(context.Background(), "alice", ref)
	require.NoError(t, err)

	err = orch.Run(context.Background(), jobID, ref)
	var storeErr *jobstore.StoreError
	require.ErrorAs(t, err, &storeErr)

	job, err := mem.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, 4, job.PageCount)
	assert.Equal(t, 2, job.ProcessedPages)
	assert.Len(t, allPages(t, mem, jobID), 2)
}

func TestOrchestrator_CancelledJobStillReachesTerminalStatus(t *testing.T) {
	f := newOrchestratorFixture(onePerPage)
	jobID, ref := f.submit(t, "hw.pdf", buildPDF(t, 2), "application/pdf")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.orch.Run(ctx, jobID, ref)
	require.ErrorIs(t, err, context.Canceled)

	job, err := f.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Zero(t, job.ProcessedPages)
}
