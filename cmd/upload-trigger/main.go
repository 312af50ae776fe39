package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/scoreflow/internal/config"
	"github.com/Lllllllleong/scoreflow/internal/gcp"
	"github.com/Lllllllleong/scoreflow/internal/services"
)

// uploadPrefix marks objects written directly by clients as uploads/<uid>/<file>.
const uploadPrefix = "uploads/"

var errNotAnUpload = errors.New("object is not a user upload")

// GCSEvent is the payload of a storage object finalized event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

var (
	app     *services.App
	logger  *slog.Logger
	once    sync.Once
	initErr error
)

func init() {
	functions.CloudEvent("HandleUpload", handleUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func handleUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		app, logger, initErr = newApp(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent GCSEvent
	if err := e.DataAs(&gcsEvent); err != nil {
		logger.Error("Failed to decode event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("event.DataAs: %w", err)
	}
	logCtx := logger.With("bucket", gcsEvent.Bucket, "object", gcsEvent.Name, "eventId", e.ID())

	owner, err := uploadOwner(gcsEvent.Name)
	if err != nil {
		// Retrying cannot make a foreign object an upload.
		logCtx.Info("SKIPPING: object is outside the upload prefix.")
		return nil
	}

	jobID, err := app.Submission.SubmitExisting(ctx, owner, gcp.ObjectRef(gcsEvent.Bucket, gcsEvent.Name))
	if err != nil {
		if jobID == "" {
			logCtx.Error("Failed to create job for upload", "error", err)
			return err
		}
		// The failure is recorded on the job; a retry would only duplicate it.
		logCtx.Warn("Job finished with an error", "jobId", jobID, "error", err)
		return nil
	}
	logCtx.Info("Upload processed.", "jobId", jobID, "owner", owner)
	return nil
}

// uploadOwner extracts the owning user ID from an object name of the form uploads/<uid>/<file>.
func uploadOwner(name string) (string, error) {
	rest, ok := strings.CutPrefix(name, uploadPrefix)
	if !ok {
		return "", errNotAnUpload
	}
	owner, file, ok := strings.Cut(rest, "/")
	if !ok || owner == "" || file == "" || strings.HasSuffix(file, "/") {
		return "", errNotAnUpload
	}
	return owner, nil
}

func newApp(ctx context.Context) (*services.App, *slog.Logger, error) {
	cfg, err := config.Load(".env")
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	l := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	a, err := services.NewApp(ctx, cfg, l)
	if err != nil {
		return nil, nil, err
	}
	return a, l, nil
}
