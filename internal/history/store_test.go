package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sjpalmer/wikivandal/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordRunAndGetHistory(t *testing.T) {
	store := newTestStore(t)

	completedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	result := models.ReconstitutionResult{
		VandalismsMerged:  3,
		SectionsAbandoned: 1,
		Duration:          250 * time.Millisecond,
		CompletedAt:       completedAt,
	}

	if err := store.RecordRun("Go (programming language)", result); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	h, err := store.GetHistory("Go (programming language)")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if h == nil {
		t.Fatal("expected non-nil history")
	}
	if h.VandalismsMerged != 3 {
		t.Errorf("VandalismsMerged = %d, want 3", h.VandalismsMerged)
	}
	if h.SectionsAbandoned != 1 {
		t.Errorf("SectionsAbandoned = %d, want 1", h.SectionsAbandoned)
	}
	if !h.LastRunAt.Equal(completedAt) {
		t.Errorf("LastRunAt = %v, want %v", h.LastRunAt, completedAt)
	}
	if h.LastRunDuration != 250*time.Millisecond {
		t.Errorf("LastRunDuration = %v, want 250ms", h.LastRunDuration)
	}
}

func TestGetHistoryMissingTitleReturnsNil(t *testing.T) {
	store := newTestStore(t)

	h, err := store.GetHistory("Nonexistent Article")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if h != nil {
		t.Errorf("expected nil history, got %+v", h)
	}
}

func TestRecordRunUpsertsOnRepeatedRequests(t *testing.T) {
	store := newTestStore(t)

	first := models.ReconstitutionResult{VandalismsMerged: 1, CompletedAt: time.Now()}
	if err := store.RecordRun("Article", first); err != nil {
		t.Fatalf("RecordRun (first): %v", err)
	}

	second := models.ReconstitutionResult{VandalismsMerged: 5, CompletedAt: time.Now().Add(time.Minute)}
	if err := store.RecordRun("Article", second); err != nil {
		t.Fatalf("RecordRun (second): %v", err)
	}

	h, err := store.GetHistory("Article")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if h.VandalismsMerged != 5 {
		t.Errorf("VandalismsMerged = %d, want 5 (latest run should win)", h.VandalismsMerged)
	}

	count, err := store.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1 (upsert, not insert)", count)
	}
}

func TestRecentTitlesOrdersNewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	if err := store.RecordRun("Older Article", models.ReconstitutionResult{CompletedAt: base}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := store.RecordRun("Newer Article", models.ReconstitutionResult{CompletedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	titles, err := store.RecentTitles(10)
	if err != nil {
		t.Fatalf("RecentTitles: %v", err)
	}
	if len(titles) != 2 || titles[0] != "Newer Article" {
		t.Errorf("titles = %v, want [Newer Article, Older Article]", titles)
	}
}
