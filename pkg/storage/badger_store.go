package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/log"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

const (
	checkpointKeyPrefix = "ckpt:"          // Prefix for checkpoint keys in DB
	checkpointDBDir     = "checkpoints_db" // Subdirectory name within dir for Badger DB files
)

// BadgerStore implements CheckpointStore on BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the checkpoint database under dir.
func NewBadgerStore(dir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(dir, checkpointDBDir)
	logger.Infof("Initializing checkpoint database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create checkpoint directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogger(logger)
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest checkpoint matters

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	logger.Info("Checkpoint database initialized successfully.")
	return &BadgerStore{db: db, log: logger.WithField("component", "checkpoint_badger")}, nil
}

func checkpointKey(entityID string) []byte {
	return []byte(checkpointKeyPrefix + entityID)
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// getCheckpoint reads and decodes a checkpoint inside txn. Corrupt values
// are logged and reported as missing.
func (s *BadgerStore) getCheckpoint(txn *badger.Txn, key []byte) (*models.EntityCheckpoint, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(key), err)
	}

	var cp *models.EntityCheckpoint
	err = item.Value(func(val []byte) error {
		var decoded models.EntityCheckpoint
		if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
			s.log.Warnf("Failed to unmarshal checkpoint for key '%s': %v. Treating as missing.", string(key), errJSON)
			return nil
		}
		cp = &decoded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading value for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return cp, nil
}

// Load implements CheckpointStore.
func (s *BadgerStore) Load(ctx context.Context, entityID string) (*models.EntityCheckpoint, error) {
	var cp *models.EntityCheckpoint
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		cp, err = s.getCheckpoint(txn, checkpointKey(entityID))
		return err
	})
	return cp, err
}

// Save implements CheckpointStore. The regression check and the write share
// one transaction.
func (s *BadgerStore) Save(ctx context.Context, cp *models.EntityCheckpoint) error {
	key := checkpointKey(cp.EntityID)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		stored, err := s.getCheckpoint(txn, key)
		if err != nil {
			return err
		}
		storedStatus := models.StatusUnset
		if stored != nil {
			storedStatus = stored.Status
		}
		if err := prepareSave(storedStatus, cp, time.Now()); err != nil {
			return err
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal checkpoint for key '%s': %w", utils.ErrParsing, string(key), err)
		}
		return txn.SetEntry(badger.NewEntry(key, data))
	})
	if err != nil {
		if errors.Is(err, utils.ErrStatusRegression) || errors.Is(err, utils.ErrDatabase) || errors.Is(err, utils.ErrParsing) {
			return err
		}
		return fmt.Errorf("%w: saving checkpoint '%s': %w", utils.ErrDatabase, cp.EntityID, err)
	}
	s.log.WithFields(logrus.Fields{"entity": cp.EntityID, "status": cp.Status}).Debug("Checkpoint saved")
	return nil
}

// Status implements CheckpointStore.
func (s *BadgerStore) Status(ctx context.Context, entityID string) (models.CheckpointStatus, error) {
	cp, err := s.Load(ctx, entityID)
	if err != nil || cp == nil {
		return models.StatusUnset, err
	}
	return cp.Status, nil
}

// Delete implements CheckpointStore.
func (s *BadgerStore) Delete(ctx context.Context, entityID string) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Delete(checkpointKey(entityID))
	})
	if err != nil {
		return fmt.Errorf("%w: deleting checkpoint '%s': %w", utils.ErrDatabase, entityID, err)
	}
	return nil
}

// List implements CheckpointStore. Badger iterates keys in sorted order.
func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(checkpointKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, string(it.Item().KeyCopy(nil)[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing checkpoints: %w", utils.ErrDatabase, err)
	}
	return ids, nil
}

// RunGC runs BadgerDB's value log garbage collection periodically. Should be run in a goroutine.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements CheckpointStore.
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing checkpoint DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing checkpoint DB: %v", err)
			return err
		}
	}
	return nil
}
