package cmd

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"chunkup/internal/config"
	"chunkup/internal/reporter"
	"chunkup/internal/storage"
	"chunkup/internal/storage/httpstore"
	"chunkup/internal/storage/s3store"
)

// newStore builds the chunk store selected by cfg.Storage
func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageS3:
		store, err := s3store.New(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 store: %w", err)
		}
		return store, nil
	default:
		return httpstore.New(cfg, http.DefaultClient, logger), nil
	}
}

// newStatusBoard connects to Firebase when the status board is enabled.
// It returns nil when disabled.
func newStatusBoard(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*reporter.StatusBoard, error) {
	if !cfg.Firebase.Enabled {
		return nil, nil
	}
	writer, err := reporter.NewFirebaseWriter(ctx, cfg.Firebase)
	if err != nil {
		return nil, err
	}
	return reporter.NewStatusBoard(ctx, writer, logger), nil
}
