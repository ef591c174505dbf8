// Package app holds the spoolhub workflows. Every write goes through a
// workflow.Runner so document, blob and session changes settle together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"spoolhub/pkg/queue"
	"spoolhub/pkg/storage"
	"spoolhub/pkg/store"
	"spoolhub/pkg/workflow"
)

// Config carries the injected collaborators. Clients are owned by the
// caller and closed by it.
type Config struct {
	Store    store.Store
	Sessions store.SessionCache
	Objects  storage.ObjectStore
	Tokens   *store.TokenIssuer
	// Cleanup is optional; without it orphaned blobs are only logged.
	Cleanup            *queue.CleanupQueue
	Metrics            *workflow.Metrics
	JanitorConcurrency int
	Now                func() time.Time
}

// App is the application core.
type App struct {
	store       store.Store
	sessions    store.SessionCache
	objects     storage.ObjectStore
	tokens      *store.TokenIssuer
	cleanup     *queue.CleanupQueue
	runner      *workflow.Runner
	concurrency int
	now         func() time.Time
}

// New validates the configuration and builds the workflow runner.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Sessions == nil {
		return nil, ErrSessionsRequired
	}
	if cfg.Tokens == nil {
		return nil, ErrTokensRequired
	}
	if cfg.Objects == nil {
		return nil, ErrObjectsRequired
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.JanitorConcurrency <= 0 {
		cfg.JanitorConcurrency = 1
	}
	opts := workflow.Options{Objects: cfg.Objects, Metrics: cfg.Metrics}
	if cfg.Cleanup != nil {
		opts.Cleanup = cfg.Cleanup
	}
	return &App{
		store:       cfg.Store,
		sessions:    cfg.Sessions,
		objects:     cfg.Objects,
		tokens:      cfg.Tokens,
		cleanup:     cfg.Cleanup,
		runner:      workflow.NewRunner(cfg.Store, opts),
		concurrency: cfg.JanitorConcurrency,
		now:         cfg.Now,
	}, nil
}

// JWKS lists the public access-token keys, or nil for HMAC signing.
func (a *App) JWKS() []store.JWK {
	return a.tokens.JWKS()
}

// RunJanitor consumes the blob cleanup queue until ctx is cancelled.
func (a *App) RunJanitor(ctx context.Context) error {
	if a.cleanup == nil {
		return ErrCleanupNotEnabled
	}
	slog.Info("janitor_started", "concurrency", a.concurrency)
	return a.cleanup.Run(ctx, a.concurrency, a.cleanupBlob)
}

func (a *App) cleanupBlob(ctx context.Context, task queue.Task) error {
	var err error
	switch task.Kind {
	case queue.KindObject:
		err = a.objects.Delete(ctx, task.Key)
		if errors.Is(err, storage.ErrObjectNotFound) {
			err = nil
		}
	case queue.KindPrefix:
		err = a.objects.DeletePrefix(ctx, task.Key)
	default:
		return fmt.Errorf("unknown cleanup kind %q", task.Kind)
	}
	if err != nil {
		return fmt.Errorf("cleanup %s %s: %w", task.Kind, task.Key, err)
	}
	slog.Info("blob_cleaned", "kind", task.Kind, "key", task.Key, "attempts", task.Attempts)
	return nil
}

// today is the start of the current UTC day.
func (a *App) today() time.Time {
	return truncateDay(a.now())
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
