package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newCheckpoint(id string) *models.EntityCheckpoint {
	cp := models.NewCheckpoint(id, models.Entity{Name: "Kampus " + id, SiteURL: "https://" + id + ".ac.id"}, time.Now())
	cp.Candidates = append(cp.Candidates, models.CandidateLink{EntityID: id, URL: "https://" + id + ".ac.id/ukt", Kind: models.KindPage, Score: 6})
	return cp
}

// backends runs fn against every CheckpointStore implementation.
func backends(t *testing.T, fn func(t *testing.T, s CheckpointStore)) {
	t.Run("file", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("badger", func(t *testing.T) {
		s, err := NewBadgerStore(t.TempDir(), testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestCheckpointStore_LoadMissing(t *testing.T) {
	backends(t, func(t *testing.T, s CheckpointStore) {
		cp, err := s.Load(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Nil(t, cp)

		status, err := s.Status(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Equal(t, models.StatusUnset, status)
	})
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, s CheckpointStore) {
		ctx := context.Background()
		cp := newCheckpoint("alpha")
		cp.Validated = append(cp.Validated, models.ValidatedLink{CandidateLink: cp.Candidates[0], Verdict: models.VerdictValid})
		require.NoError(t, s.Save(ctx, cp))
		assert.Equal(t, models.CheckpointStats{Candidates: 1, Validated: 1}, cp.Stats, "stats refreshed on save")

		got, err := s.Load(ctx, "alpha")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Kampus alpha", got.EntityName)
		assert.Equal(t, models.StatusStarted, got.Status)
		require.Len(t, got.Candidates, 1)
		assert.Equal(t, "https://alpha.ac.id/ukt", got.Candidates[0].URL)
		assert.Equal(t, models.VerdictValid, got.Validated[0].Verdict)
		assert.Equal(t, 1, got.Stats.Validated)
	})
}

func TestCheckpointStore_StatusOnlyMovesForward(t *testing.T) {
	backends(t, func(t *testing.T, s CheckpointStore) {
		ctx := context.Background()
		cp := newCheckpoint("beta")
		cp.Advance(models.StatusValidated)
		require.NoError(t, s.Save(ctx, cp))

		cp.Advance(models.StatusDone)
		require.NoError(t, s.Save(ctx, cp))

		stale := newCheckpoint("beta")
		stale.Status = models.StatusCrawled
		err := s.Save(ctx, stale)
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrStatusRegression))

		status, err := s.Status(ctx, "beta")
		require.NoError(t, err)
		assert.Equal(t, models.StatusDone, status)
	})
}

func TestCheckpointStore_DeleteAllowsFreshStart(t *testing.T) {
	backends(t, func(t *testing.T, s CheckpointStore) {
		ctx := context.Background()
		cp := newCheckpoint("delta")
		cp.Advance(models.StatusDone)
		require.NoError(t, s.Save(ctx, cp))

		require.NoError(t, s.Delete(ctx, "delta"))
		require.NoError(t, s.Delete(ctx, "delta"), "deleting a missing checkpoint is a no-op")

		got, err := s.Load(ctx, "delta")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, s.Save(ctx, newCheckpoint("delta")), "a fresh started checkpoint saves after delete")
	})
}

func TestCheckpointStore_List(t *testing.T) {
	backends(t, func(t *testing.T, s CheckpointStore) {
		ctx := context.Background()
		for _, id := range []string{"gamma", "alpha", "beta"} {
			require.NoError(t, s.Save(ctx, newCheckpoint(id)))
		}
		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, ids)
	})
}

func TestFileStore_CorruptIsMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))

	cp, err := s.Load(context.Background(), "broken")
	require.NoError(t, err)
	assert.Nil(t, cp)

	// A fresh save replaces the corrupt file.
	require.NoError(t, s.Save(context.Background(), newCheckpoint("broken")))
	cp, err = s.Load(context.Background(), "broken")
	require.NoError(t, err)
	require.NotNil(t, cp)
}

func TestFileStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), newCheckpoint("delta")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "delta.json", entries[0].Name())
}

func TestFileStore_RejectsPathLikeIDs(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/b", `c:\d`, ""} {
		_, err := s.Load(ctx, id)
		assert.ErrorIs(t, err, utils.ErrFilesystem, id)
		assert.ErrorIs(t, s.Save(ctx, newCheckpoint(id)), utils.ErrFilesystem, id)
		assert.ErrorIs(t, s.Delete(ctx, id), utils.ErrFilesystem, id)
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Not An ID.json"), []byte("{}"), 0644))
	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "foreign files are not listed")

	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewBadgerStore(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, s1.Save(context.Background(), newCheckpoint("epsilon")))
	require.NoError(t, s1.Close())

	s2, err := NewBadgerStore(dir, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() })

	cp, err := s2.Load(context.Background(), "epsilon")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "epsilon", cp.EntityID)
}

func TestOpen(t *testing.T) {
	s, err := Open(config.CheckpointConfig{Backend: "file", Dir: t.TempDir()}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(config.CheckpointConfig{Backend: "sqlite", Dir: t.TempDir()}, testLogger())
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))
}
