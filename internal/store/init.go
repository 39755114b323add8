package store

import (
	"context"
	"fmt"

	"github.com/gwlsn/clipshrink/internal/jobs"
	"github.com/gwlsn/clipshrink/internal/logger"
)

// InitStore opens the database at dbPath and fails every job a previous
// process left pending or processing. Nothing resumes across restarts.
func InitStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	count, err := store.FailUnfinishedJobs(ctx, jobs.ReasonRestart)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("fail unfinished jobs: %w", err)
	}
	if count > 0 {
		logger.Info("Failed jobs interrupted by restart", "count", count)
	}

	return store, nil
}
