package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/scoreflow/internal/models"
)

// deleteAllConcurrency bounds parallel job deletions in DeleteAllForOwner.
const deleteAllConcurrency = 5

const resultsCollection = "results"

// FirestoreStore is the production Store backed by Cloud Firestore.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

// NewFirestoreStore returns a Store writing job documents to the named collection.
func NewFirestoreStore(client *firestore.Client, collection string, logger *slog.Logger) *FirestoreStore {
	if collection == "" {
		collection = "jobs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreStore{client: client, collection: collection, logger: logger}
}

func (s *FirestoreStore) jobRef(jobID string) (*firestore.DocumentRef, error) {
	if jobID == "" || strings.Contains(jobID, "/") {
		return nil, ErrNotFound
	}
	return s.client.Collection(s.collection).Doc(jobID), nil
}

func (s *FirestoreStore) Create(ctx context.Context, owner, sourceRef string) (string, error) {
	if owner == "" || sourceRef == "" {
		return "", fmt.Errorf("%w: owner and source are required", ErrInvalidArgument)
	}
	ref := s.client.Collection(s.collection).NewDoc()
	job := models.Job{
		UserID:      owner,
		FileGCSPath: sourceRef,
		Status:      models.StatusProcessing,
	}
	if _, err := ref.Create(ctx, job); err != nil {
		return "", storeErr("create job", err)
	}
	s.logger.Info("Created Firestore job.", "jobId", ref.ID, "owner", owner)
	return ref.ID, nil
}

func (s *FirestoreStore) SetPageCount(ctx context.Context, jobID string, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: page count must be positive, got %d", ErrInvalidArgument, n)
	}
	ref, err := s.jobRef(jobID)
	if err != nil {
		return err
	}
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		job, err := readJob(tx, ref)
		if err != nil {
			return err
		}
		if job.PageCount != 0 {
			return ErrPageCountAlreadySet
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "page_count", Value: n},
			{Path: "updated_at", Value: firestore.ServerTimestamp},
		})
	})
	return mapErr("set page count", err)
}

func (s *FirestoreStore) PutPageResult(ctx context.Context, jobID string, pageNumber int, qas []models.QuestionAnswer) error {
	if pageNumber < 1 {
		return fmt.Errorf("%w: page number must be positive, got %d", ErrInvalidArgument, pageNumber)
	}
	ref, err := s.jobRef(jobID)
	if err != nil {
		return err
	}
	if qas == nil {
		qas = []models.QuestionAnswer{}
	}
	pageRef := ref.Collection(resultsCollection).Doc(PageDocID(pageNumber))
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(pageRef, models.PageResult{PageNumber: pageNumber, Results: qas}); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "processed_pages", Value: firestore.Increment(1)},
			{Path: "updated_at", Value: firestore.ServerTimestamp},
		})
	})
	return mapErr("put page result", err)
}

func (s *FirestoreStore) SetStatus(ctx context.Context, jobID string, st models.JobStatus, errorMessage string) error {
	ref, err := s.jobRef(jobID)
	if err != nil {
		return err
	}
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		job, err := readJob(tx, ref)
		if err != nil {
			return err
		}
		if err := validateTransition(job.Status, st); err != nil {
			return err
		}
		updates := []firestore.Update{
			{Path: "status", Value: string(st)},
			{Path: "updated_at", Value: firestore.ServerTimestamp},
		}
		if st == models.StatusFailed {
			updates = append(updates, firestore.Update{Path: "error_message", Value: errorMessage})
		}
		return tx.Update(ref, updates)
	})
	return mapErr("set status", err)
}

func (s *FirestoreStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	ref, err := s.jobRef(jobID)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, mapErr("get job", err)
	}
	return decodeJob(snap)
}

func (s *FirestoreStore) ListForOwner(ctx context.Context, owner string) ([]*models.Job, error) {
	iter := s.client.Collection(s.collection).
		Where("user_id", "==", owner).
		OrderBy("created_at", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var jobs []*models.Job
	var completed []*models.Job
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, storeErr("list jobs", err)
		}
		job, err := decodeJob(snap)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
		if job.Status == models.StatusCompleted && len(completed) < previewJobLimit {
			completed = append(completed, job)
		}
	}

	var g errgroup.Group
	g.SetLimit(10)
	for _, job := range completed {
		g.Go(func() error {
			s.attachPreview(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return jobs, nil
}

// attachPreview copies the first question of page 1 onto job. Failures only omit the preview.
func (s *FirestoreStore) attachPreview(ctx context.Context, job *models.Job) {
	snap, err := s.client.Collection(s.collection).Doc(job.ID).
		Collection(resultsCollection).Doc(PageDocID(1)).Get(ctx)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			s.logger.Warn("Error fetching first question", "jobId", job.ID, "error", err)
		}
		return
	}
	var page models.PageResult
	if err := snap.DataTo(&page); err != nil {
		s.logger.Warn("Could not decode first page", "jobId", job.ID, "error", err)
		return
	}
	job.FirstQuestion = firstQuestion(page.Results)
}

func (s *FirestoreStore) PaginateResults(ctx context.Context, jobID string, pageSize int, cursor string) ([]*models.PageResult, string, error) {
	if pageSize < 1 {
		return nil, "", fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidArgument, pageSize)
	}
	ref, err := s.jobRef(jobID)
	if err != nil {
		return nil, "", err
	}
	results := ref.Collection(resultsCollection)
	query := results.OrderBy("page_number", firestore.Asc).Limit(pageSize)
	if cursor != "" {
		if _, err := ParseCursor(cursor); err != nil {
			return nil, "", err
		}
		cursorSnap, err := results.Doc(cursor).Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, "", ErrInvalidCursor
			}
			return nil, "", storeErr("read cursor", err)
		}
		query = query.StartAfter(cursorSnap)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, "", storeErr("paginate results", err)
	}
	pages := make([]*models.PageResult, 0, len(docs))
	for _, doc := range docs {
		var page models.PageResult
		if err := doc.DataTo(&page); err != nil {
			return nil, "", storeErr("decode page result", err)
		}
		if page.Results == nil {
			page.Results = []models.QuestionAnswer{}
		}
		pages = append(pages, &page)
	}
	next := ""
	if len(docs) == pageSize {
		next = docs[len(docs)-1].Ref.ID
	}
	return pages, next, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, jobID string) error {
	ref, err := s.jobRef(jobID)
	if err != nil {
		return nil
	}
	iter := ref.Collection(resultsCollection).DocumentRefs(ctx)
	pending := make([]*firestore.DocumentRef, 0, DeleteBatchSize)
	for {
		pageRef, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return storeErr("list page results", err)
		}
		pending = append(pending, pageRef)
		if len(pending) == DeleteBatchSize {
			if err := s.deleteRefs(ctx, pending); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}
	if len(pending) > 0 {
		if err := s.deleteRefs(ctx, pending); err != nil {
			return err
		}
	}
	if _, err := ref.Delete(ctx); err != nil {
		return storeErr("delete job", err)
	}
	s.logger.Info("Deleted Firestore job and all associated results.", "jobId", jobID)
	return nil
}

// deleteRefs removes up to DeleteBatchSize documents in one commit.
func (s *FirestoreStore) deleteRefs(ctx context.Context, refs []*firestore.DocumentRef) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, r := range refs {
			if err := tx.Delete(r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storeErr("delete page results", err)
	}
	return nil
}

func (s *FirestoreStore) DeleteAllForOwner(ctx context.Context, owner string) (int, error) {
	docs, err := s.client.Collection(s.collection).
		Where("user_id", "==", owner).
		Select().
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, storeErr("list jobs for deletion", err)
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.Ref.ID)
	}
	deleted := deleteJobs(ctx, ids, deleteAllConcurrency, s.Delete, s.logger)
	s.logger.Info("Deleted jobs for user.", "owner", owner, "deletedCount", deleted)
	return deleted, nil
}

func readJob(tx *firestore.Transaction, ref *firestore.DocumentRef) (*models.Job, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		return nil, err
	}
	return decodeJob(snap)
}

func decodeJob(snap *firestore.DocumentSnapshot) (*models.Job, error) {
	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, storeErr("decode job", err)
	}
	job.ID = snap.Ref.ID
	return &job, nil
}

// mapErr keeps contract errors intact and wraps everything else as a StoreError.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrNotFound, ErrInvalidTransition, ErrPageCountAlreadySet, ErrInvalidArgument} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return storeErr(op, err)
}
