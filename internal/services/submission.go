package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/Lllllllleong/scoreflow/internal/jobstore"
)

// BlobWriter stores a new upload and returns its reference.
type BlobWriter interface {
	Put(ctx context.Context, name string, content io.Reader, contentType string) (string, error)
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Submission turns uploads into jobs.
type Submission struct {
	store      jobstore.Store
	blobs      BlobWriter
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewSubmission(store jobstore.Store, blobs BlobWriter, dispatcher *Dispatcher, logger *slog.Logger) *Submission {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submission{store: store, blobs: blobs, dispatcher: dispatcher, logger: logger}
}

// Submit stores the upload, creates a processing job and starts it in the background.
// It returns as soon as the job exists.
func (s *Submission) Submit(ctx context.Context, owner, filename, contentType string, body io.Reader) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if filename == "" || body == nil {
		return "", fmt.Errorf("%w: no file provided", ErrInvalidInput)
	}
	if err := s.dispatcher.Admit(); err != nil {
		return "", err
	}
	launched := false
	defer func() {
		if !launched {
			s.dispatcher.Release()
		}
	}()

	objectName := fmt.Sprintf("%s-%s", uuid.NewString(), SanitizeFilename(filename))
	ref, err := s.blobs.Put(ctx, objectName, body, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	jobID, err := s.store.Create(ctx, owner, ref)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	s.dispatcher.Launch(jobID, ref)
	launched = true
	s.logger.Info("Job created and background processing started.", "jobId", jobID, "owner", owner, "source", ref)
	return jobID, nil
}

// SubmitExisting creates a job for an already stored object and processes it before returning.
// The job ID is returned even when processing fails, since the failure is recorded on the job.
func (s *Submission) SubmitExisting(ctx context.Context, owner, ref string) (string, error) {
	if owner == "" || ref == "" {
		return "", fmt.Errorf("%w: owner and source are required", ErrInvalidInput)
	}
	jobID, err := s.store.Create(ctx, owner, ref)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	s.logger.Info("Job created for stored object.", "jobId", jobID, "owner", owner, "source", ref)
	return jobID, s.dispatcher.RunNow(ctx, jobID, ref)
}

// SanitizeFilename reduces a client-supplied name to a safe object name suffix.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}
