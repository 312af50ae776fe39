package jobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/scoreflow/internal/models"
)

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateStartsProcessing", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		id, err := s.Create(ctx, "alice", "gs://bucket/a.pdf")
		require.NoError(t, err)
		require.NotEmpty(t, id)

		job, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, "alice", job.UserID)
		assert.Equal(t, "gs://bucket/a.pdf", job.FileGCSPath)
		assert.Equal(t, models.StatusProcessing, job.Status)
		assert.Zero(t, job.PageCount)
		assert.Zero(t, job.ProcessedPages)
		assert.Empty(t, job.ErrorMessage)
	})

	t.Run("GetMissingJob", func(t *testing.T) {
		_, err := newStore(t).Get(context.Background(), "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PageCountIsWrittenOnce", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id, err := s.Create(ctx, "alice", "gs://bucket/a.pdf")
		require.NoError(t, err)

		require.NoError(t, s.SetPageCount(ctx, id, 3))
		assert.ErrorIs(t, s.SetPageCount(ctx, id, 4), ErrPageCountAlreadySet)
		assert.ErrorIs(t, s.SetPageCount(ctx, id, 0), ErrInvalidArgument)

		job, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 3, job.PageCount)
	})

	t.Run("PutPageResultIncrementsProgress", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id, err := s.Create(ctx, "alice", "gs://bucket/a.pdf")
		require.NoError(t, err)
		require.NoError(t, s.SetPageCount(ctx, id, 2))

		qas := []models.QuestionAnswer{
			{Question: "2+2?", Answer: "4", IsHomeworkProblem: true},
			{Question: "Define x", Answer: "x is a variable"},
		}
		require.NoError(t, s.PutPageResult(ctx, id, 1, qas))
		require.NoError(t, s.PutPageResult(ctx, id, 2, nil))

		job, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, job.ProcessedPages)

		pages, next, err := s.PaginateResults(ctx, id, 10, "")
		require.NoError(t, err)
		assert.Empty(t, next)
		require.Len(t, pages, 2)
		assert.Equal(t, 1, pages[0].PageNumber)
		assert.Equal(t, qas, pages[0].Results)
		assert.Equal(t, 2, pages[1].PageNumber)
		assert.NotNil(t, pages[1].Results)
		assert.Empty(t, pages[1].Results)
	})

	t.Run("StatusOnlyLeavesProcessing", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		done, err := s.Create(ctx, "alice", "gs://bucket/a.pdf")
		require.NoError(t, err)
		failed, err := s.Create(ctx, "alice", "gs://bucket/b.pdf")
		require.NoError(t, err)

		require.NoError(t, s.SetStatus(ctx, done, models.StatusCompleted, ""))
		assert.ErrorIs(t, s.SetStatus(ctx, done, models.StatusFailed, "late"), ErrInvalidTransition)
		assert.ErrorIs(t, s.SetStatus(ctx, done, models.StatusProcessing, ""), ErrInvalidTransition)

		require.NoError(t, s.SetStatus(ctx, failed, models.StatusFailed, "could not open pdf"))

		job, err := s.Get(ctx, done)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, job.Status)
		assert.Empty(t, job.ErrorMessage)

		job, err = s.Get(ctx, failed)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, job.Status)
		assert.Equal(t, "could not open pdf", job.ErrorMessage)
	})

	t.Run("PaginationFollowsCursorsWithoutGaps", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id, err := s.Create(ctx, "alice", "gs://bucket/a.pdf")
		require.NoError(t, err)
		require.NoError(t, s.SetPageCount(ctx, id, 7))
		// Written out of order to prove ordering comes from page_number.
		for _, n := range []int{3, 1, 7, 2, 5, 4, 6} {
			require.NoError(t, s.PutPageResult(ctx, id, n, []models.QuestionAnswer{{Question: PageDocID(n)}}))
		}

		var seen []int
		cursor := ""
		for calls := 0; calls < 10; calls++ {
			pages, next, err := s.PaginateResults(ctx, id, 3, cursor)
			require.NoError(t, err)
			for _, p := range pages {
				seen = append(seen, p.PageNumber)
			}
			if next == "" {
				assert.Less(t, len(pages), 3)
				break
			}
			cursor = next
		}
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, seen)

		again, _, err := s.PaginateResults(ctx, id, 3, PageDocID(3))
		require.NoError(t, err)
		require.Len(t, again, 3)
		assert.Equal(t, 4, again[0].PageNumber)
	})

	t.Run("InvalidCursorIsRejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id, err := s.Create(ctx, "alice", "gs://bucket/a.pdf")
		require.NoError(t, err)
		require.NoError(t, s.SetPageCount(ctx, id, 1))
		require.NoError(t, s.PutPageResult(ctx, id, 1, nil))

		for _, cursor := range []string{"bogus", "page_x", "page_0", "page_99"} {
			_, _, err := s.PaginateResults(ctx, id, 5, cursor)
			assert.ErrorIs(t, err, ErrInvalidCursor, cursor)
		}

		job, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, job.ProcessedPages)
	})

	t.Run("ListForOwnerIsolatesOwnersAndPreviews", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		older, err := s.Create(ctx, "alice", "gs://bucket/a.pdf")
		require.NoError(t, err)
		bobs, err := s.Create(ctx, "bob", "gs://bucket/b.pdf")
		require.NoError(t, err)
		newer, err := s.Create(ctx, "alice", "gs://bucket/c.pdf")
		require.NoError(t, err)

		require.NoError(t, s.SetPageCount(ctx, older, 1))
		require.NoError(t, s.PutPageResult(ctx, older, 1, []models.QuestionAnswer{{Question: "Solve x+1=2", Answer: "x=1"}}))
		require.NoError(t, s.SetStatus(ctx, older, models.StatusCompleted, ""))

		jobs, err := s.ListForOwner(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, newer, jobs[0].ID)
		assert.Equal(t, older, jobs[1].ID)
		assert.Empty(t, jobs[0].FirstQuestion)
		assert.Equal(t, "Solve x+1=2", jobs[1].FirstQuestion)
		for _, j := range jobs {
			assert.NotEqual(t, bobs, j.ID)
		}

		jobs, err = s.ListForOwner(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, bobs, jobs[0].ID)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id, err := s.Create(ctx, "alice", "gs://bucket/a.pdf")
		require.NoError(t, err)
		require.NoError(t, s.SetPageCount(ctx, id, 3))
		for n := 1; n <= 3; n++ {
			require.NoError(t, s.PutPageResult(ctx, id, n, nil))
		}

		require.NoError(t, s.Delete(ctx, id))
		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		pages, _, err := s.PaginateResults(ctx, id, 10, "")
		require.NoError(t, err)
		assert.Empty(t, pages)

		assert.NoError(t, s.Delete(ctx, id))
	})

	t.Run("DeleteCascadesAcrossBatches", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		pages := DeleteBatchSize + 1
		id, err := s.Create(ctx, "alice", "gs://bucket/long.pdf")
		require.NoError(t, err)
		require.NoError(t, s.SetPageCount(ctx, id, pages))
		for n := 1; n <= pages; n++ {
			require.NoError(t, s.PutPageResult(ctx, id, n, nil))
		}
		job, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, pages, job.ProcessedPages)

		require.NoError(t, s.Delete(ctx, id))

		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		results, next, err := s.PaginateResults(ctx, id, 100, "")
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Empty(t, next)
	})

	t.Run("DeleteAllForOwner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for i := 0; i < 3; i++ {
			_, err := s.Create(ctx, "alice", "gs://bucket/a.pdf")
			require.NoError(t, err)
		}
		keep, err := s.Create(ctx, "bob", "gs://bucket/b.pdf")
		require.NoError(t, err)

		n, err := s.DeleteAllForOwner(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		jobs, err := s.ListForOwner(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, jobs)
		_, err = s.Get(ctx, keep)
		assert.NoError(t, err)
	})
}
