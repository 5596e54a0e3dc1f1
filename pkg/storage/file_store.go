package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

const checkpointExt = ".json"

// FileStore keeps one JSON file per entity, replaced atomically on save.
type FileStore struct {
	dir string
	mu  sync.Mutex
	log *logrus.Entry
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, logger *logrus.Entry) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating checkpoint directory '%s': %w", utils.ErrFilesystem, dir, err)
	}
	logger.Infof("Checkpoint file store at: %s", dir)
	return &FileStore{dir: dir, log: logger.WithField("component", "checkpoint_file")}, nil
}

// path maps an entity ID to its checkpoint file. IDs that could escape the
// directory or collide after escaping are refused.
func (s *FileStore) path(entityID string) (string, error) {
	if !utils.ValidEntityID(entityID) {
		return "", fmt.Errorf("%w: '%s' is not a valid entity ID", utils.ErrFilesystem, entityID)
	}
	return filepath.Join(s.dir, entityID+checkpointExt), nil
}

// Load implements CheckpointStore.
func (s *FileStore) Load(ctx context.Context, entityID string) (*models.EntityCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(entityID)
}

func (s *FileStore) load(entityID string) (*models.EntityCheckpoint, error) {
	p, err := s.path(entityID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading checkpoint '%s': %w", utils.ErrFilesystem, p, err)
	}

	var cp models.EntityCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.log.WithField("path", p).Warnf("Corrupt checkpoint, treating as missing: %v", err)
		return nil, nil
	}
	return &cp, nil
}

// Save implements CheckpointStore.
func (s *FileStore) Save(ctx context.Context, cp *models.EntityCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.path(cp.EntityID)
	if err != nil {
		return err
	}
	stored, err := s.load(cp.EntityID)
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
	if err := utils.WriteJSONAtomic(p, cp); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"entity": cp.EntityID, "status": cp.Status}).Debug("Checkpoint saved")
	return nil
}

// Status implements CheckpointStore.
func (s *FileStore) Status(ctx context.Context, entityID string) (models.CheckpointStatus, error) {
	cp, err := s.Load(ctx, entityID)
	if err != nil || cp == nil {
		return models.StatusUnset, err
	}
	return cp.Status, nil
}

// Delete implements CheckpointStore.
func (s *FileStore) Delete(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.path(entityID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: deleting checkpoint '%s': %w", utils.ErrFilesystem, entityID, err)
	}
	return nil
}

// List implements CheckpointStore.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing '%s': %w", utils.ErrFilesystem, s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		if id := strings.TrimSuffix(name, checkpointExt); utils.ValidEntityID(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements CheckpointStore.
func (s *FileStore) Close() error { return nil }
