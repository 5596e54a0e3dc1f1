package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

// CheckpointStore persists per-entity progress so interrupted runs resume.
type CheckpointStore interface {
	// Load returns the entity's checkpoint, or nil and no error when none exists.
	// Unreadable records are logged and reported as missing.
	Load(ctx context.Context, entityID string) (*models.EntityCheckpoint, error)

	// Save writes the checkpoint atomically. It refreshes Stats and UpdatedAt,
	// and fails with utils.ErrStatusRegression when the stored status is further along.
	Save(ctx context.Context, cp *models.EntityCheckpoint) error

	// Status returns the stored status, or StatusUnset when there is no checkpoint.
	Status(ctx context.Context, entityID string) (models.CheckpointStatus, error)

	// Delete removes the entity's checkpoint. Deleting a missing checkpoint is not an error.
	Delete(ctx context.Context, entityID string) error

	// List returns the IDs of all stored checkpoints, sorted.
	List(ctx context.Context) ([]string, error)

	// Close releases the backend.
	Close() error
}

// Open creates the backend selected by cfg.
func Open(cfg config.CheckpointConfig, logger *logrus.Entry) (CheckpointStore, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir, logger)
	case "badger":
		return NewBadgerStore(cfg.Dir, logger)
	}
	return nil, fmt.Errorf("%w: unknown checkpoint backend '%s'", utils.ErrConfigValidation, cfg.Backend)
}

// prepareSave refuses status regressions and stamps derived fields.
func prepareSave(stored models.CheckpointStatus, cp *models.EntityCheckpoint, now time.Time) error {
	if cp.Status.Rank() < stored.Rank() {
		return fmt.Errorf("%w: entity '%s' is '%s', refusing to save '%s'",
			utils.ErrStatusRegression, cp.EntityID, stored, cp.Status)
	}
	cp.RefreshStats()
	cp.UpdatedAt = now
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	return nil
}
