package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/scoreflow/internal/config"
	"github.com/Lllllllleong/scoreflow/internal/gcp"
	"github.com/Lllllllleong/scoreflow/internal/jobstore"
)

// App bundles the cloud clients and the services built on top of them.
type App struct {
	Store      jobstore.Store
	Blobs      *gcp.BlobStore
	Dispatcher *Dispatcher
	Submission *Submission
	Queries    *JobQueries
	Explainer  *Explainer

	firestoreClient *firestore.Client
	storageClient   *storage.Client
	vertexClient    *gcp.VertexClient
}

// NewApp creates every client the service needs and wires the job pipeline.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.GeminiModel)
	if err != nil {
		storageClient.Close()
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	app := &App{
		firestoreClient: firestoreClient,
		storageClient:   storageClient,
		vertexClient:    vertexClient,
	}

	analyzer, err := NewAnalyzer(vertexClient.AnalyzerModel, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Store = jobstore.NewFirestoreStore(firestoreClient, cfg.FirestoreCollection, logger)
	app.Blobs = gcp.NewBlobStore(storageClient, cfg.StorageBucket)

	orchestrator := NewOrchestrator(app.Store, app.Blobs, NewSplitter(logger), analyzer, logger)
	app.Dispatcher = NewDispatcher(context.Background(), orchestrator, cfg.MaxConcurrentJobs, cfg.JobTimeout, logger)
	app.Submission = NewSubmission(app.Store, app.Blobs, app.Dispatcher, logger)
	app.Queries = NewJobQueries(app.Store, app.Blobs, QueryConfig{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
		SignedURLTTL:    cfg.SignedURLTTL,
	})
	app.Explainer = NewExplainer(app.Queries, vertexClient, logger)

	logger.Info("Application wired",
		"project", cfg.ProjectID,
		"bucket", cfg.StorageBucket,
		"collection", cfg.FirestoreCollection,
		"model", cfg.GeminiModel,
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
	)
	return app, nil
}

// Close releases the underlying clients.
func (a *App) Close() error {
	var errs []error
	if a.vertexClient != nil {
		errs = append(errs, a.vertexClient.Close())
	}
	if a.storageClient != nil {
		errs = append(errs, a.storageClient.Close())
	}
	if a.firestoreClient != nil {
		errs = append(errs, a.firestoreClient.Close())
	}
	return errors.Join(errs...)
}
