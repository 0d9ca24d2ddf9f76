package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ddboline/movie-collection-go/internal/models"
)

type fakeStore struct {
	entries map[string]*models.CollectionEntry
}

func newFakeStore() *fakeStore { return &fakeStore{entries: map[string]*models.CollectionEntry{}} }

func (f *fakeStore) Insert(path string, checkExists bool) (*models.CollectionEntry, error) {
	if checkExists {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	}
	e := &models.CollectionEntry{ID: uuid.New(), Path: path}
	f.entries[path] = e
	return e, nil
}

func (f *fakeStore) Remove(path string) error {
	delete(f.entries, path)
	return nil
}

func (f *fakeStore) LiveMap() (map[string]*models.CollectionEntry, error) {
	out := make(map[string]*models.CollectionEntry, len(f.entries))
	for k, v := range f.entries {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) ResolveIndex(pathOrSuffix string) (*models.CollectionEntry, error) {
	return f.entries[pathOrSuffix], nil
}

type fakeQueue struct {
	removed []string
}

func (q *fakeQueue) RemoveByPath(path string, resolver PathResolver) error {
	q.removed = append(q.removed, path)
	return nil
}

type fakeEpisodes struct {
	episodes []models.ImdbEpisode
}

func (e *fakeEpisodes) ListEpisodesChangedSince(_ time.Time) ([]models.ImdbEpisode, error) {
	return e.episodes, nil
}

func TestRunInsertsNewFilesAndRemovesVanished(t *testing.T) {
	dir := t.TempDir()
	keepPath := filepath.Join(dir, "the_sopranos_s01_ep01.mp4")
	if err := os.WriteFile(keepPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	vanishedPath := filepath.Join(dir, "gone_s01_ep01.mp4")
	store.entries[vanishedPath] = &models.CollectionEntry{ID: uuid.New(), Path: vanishedPath}

	queue := &fakeQueue{}
	episodes := &fakeEpisodes{}

	pass := New([]string{dir}, []string{"mp4"}, store, store, queue, episodes, nil)
	result, err := pass.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", result.Inserted)
	}
	if result.Removed != 1 {
		t.Errorf("Removed = %d, want 1", result.Removed)
	}
	if _, ok := store.entries[keepPath]; !ok {
		t.Errorf("expected %s to be inserted", keepPath)
	}
	if _, ok := store.entries[vanishedPath]; ok {
		t.Errorf("expected %s to be removed", vanishedPath)
	}
}

func TestRunIsIdempotentOnUnchangedFilesystem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archer_s13_ep01.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	queue := &fakeQueue{}
	episodes := &fakeEpisodes{}
	pass := New([]string{dir}, []string{"mp4"}, store, store, queue, episodes, nil)

	if _, err := pass.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	result, err := pass.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if result.Inserted != 0 || result.Removed != 0 {
		t.Errorf("second run should be a no-op, got Inserted=%d Removed=%d", result.Inserted, result.Removed)
	}
}
