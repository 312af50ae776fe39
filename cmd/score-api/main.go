package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	firebase "firebase.google.com/go/v4"
	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/scoreflow/internal/config"
	"github.com/Lllllllleong/scoreflow/internal/handlers"
	"github.com/Lllllllleong/scoreflow/internal/services"
)

const entryPoint = "ScoreAPI"

var (
	router  http.Handler
	once    sync.Once
	initErr error
)

func init() {
	// "ScoreAPI" is the entry point name configured in GCP.
	functions.HTTP(entryPoint, handleRequest)
}

// main serves the function locally. Cloud Functions invokes the registered entry point directly.
func main() {
	// Without a target the framework mounts the function at /ScoreAPI only.
	if _, ok := os.LookupEnv("FUNCTION_TARGET"); !ok {
		os.Setenv("FUNCTION_TARGET", entryPoint)
	}
	port, err := listenPort(".env")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := funcframework.Start(port); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

// listenPort returns the configured PORT.
func listenPort(envFile string) (string, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return "", err
	}
	return cfg.Port, nil
}

func handleRequest(w http.ResponseWriter, r *http.Request) {
	// Use sync.Once for one-time initialization of clients.
	once.Do(func() {
		router, initErr = newRouter(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Failed to initialize service", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}

func newRouter(ctx context.Context) (http.Handler, error) {
	cfg, err := config.Load(".env")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	app, err := services.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// A nil verifier switches the authenticator to the debug header.
	var verifier handlers.TokenVerifier
	if cfg.AuthDisabled {
		logger.Warn("Authentication is disabled; callers are identified by the debug header.", "header", handlers.DebugUserHeader)
	} else {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to create firebase app: %w", err)
		}
		authClient, err := fbApp.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create firebase auth client: %w", err)
		}
		verifier = authClient
	}

	h := handlers.NewHandler(app.Submission, app.Queries, app.Explainer, logger)
	return handlers.NewRouter(h, handlers.Authenticator(verifier, logger)), nil
}
