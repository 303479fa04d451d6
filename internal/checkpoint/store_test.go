package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seanmoran/hivemind/pkg/models"
)

func testSession(id string) *models.SwarmSession {
	return &models.SwarmSession{
		ID:        id,
		Name:      "test session",
		Status:    models.SessionActive,
		Config:    models.DefaultSessionConfig(),
		Metrics:   models.NewSessionMetrics(),
		Context:   map[string]string{"repo": "/tmp/work"},
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
}

func testTasks() map[string]*models.HierarchicalTask {
	return map[string]*models.HierarchicalTask{
		"t1": {ID: "t1", Title: "root", Status: models.TaskStatusCompleted},
		"t2": {ID: "t2", ParentID: "t1", Depth: 1, Title: "child", Status: models.TaskStatusInProgress},
	}
}

func TestCreateAndLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	session := testSession("s1")

	cp, err := store.Create(session, testTasks(), nil, models.TriggerManual, "before merge")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if cp.Checksum == "" || cp.SizeBytes == 0 {
		t.Error("checkpoint should carry checksum and size")
	}

	loaded, err := store.Load("s1", cp.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != cp.ID || loaded.SessionID != "s1" {
		t.Errorf("loaded wrong checkpoint: %+v", loaded)
	}
	if loaded.Checksum != cp.Checksum {
		t.Errorf("checksum changed: %s vs %s", loaded.Checksum, cp.Checksum)
	}
	if loaded.Session.Name != "test session" {
		t.Errorf("session name = %q", loaded.Session.Name)
	}
	if len(loaded.Tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(loaded.Tasks))
	}
	if loaded.Context["repo"] != "/tmp/work" {
		t.Errorf("context not preserved: %v", loaded.Context)
	}
}

func TestLoadRejectsCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 5)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cp, err := store.Create(testSession("s1"), testTasks(), nil, models.TriggerAuto, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Rewrite the file with a valid envelope but a wrong checksum.
	path := filepath.Join(dir, "s1", cp.ID+fileExt)
	raw, err := store.Load("s1", cp.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	raw.Checksum = strings.Repeat("0", 64)
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := writeCompressed(path, data); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := store.Load("s1", cp.ID); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Load err = %v, want ErrChecksumMismatch", err)
	}
}

func TestLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Load("s1", "cp-nope"); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("Load err = %v, want ErrCheckpointNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store, err := NewStore(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	session := testSession("s1")
	var ids []string
	for i := 0; i < 3; i++ {
		cp, err := store.Create(session, testTasks(), nil, models.TriggerAuto, "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, cp.ID)
		time.Sleep(5 * time.Millisecond)
	}

	infos, err := store.List("s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(infos))
	}
	if infos[0].ID != ids[2] {
		t.Errorf("newest first: got %s, want %s", infos[0].ID, ids[2])
	}

	empty, err := store.List("no-such-session")
	if err != nil {
		t.Fatalf("List empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty list, got %d", len(empty))
	}
}

func TestRetentionEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 2)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	session := testSession("s1")
	var ids []string
	for i := 0; i < 4; i++ {
		cp, err := store.Create(session, testTasks(), nil, models.TriggerAuto, "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, cp.ID)
		time.Sleep(5 * time.Millisecond)
	}

	infos, err := store.List("s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("retention cap 2: got %d checkpoints", len(infos))
	}
	for _, old := range ids[:2] {
		if _, err := os.Stat(filepath.Join(dir, "s1", old+fileExt)); !os.IsNotExist(err) {
			t.Errorf("checkpoint %s should have been evicted", old)
		}
	}
	// Newest survives.
	if infos[0].ID != ids[3] {
		t.Errorf("newest = %s, want %s", infos[0].ID, ids[3])
	}
}

func TestRestoreResetsInFlight(t *testing.T) {
	store, err := NewStore(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	started := time.Now()
	tasks := map[string]*models.HierarchicalTask{
		"a": {ID: "a", Status: models.TaskStatusCompleted},
		"b": {ID: "b", Status: models.TaskStatusInProgress, StartedAt: &started},
		"c": {ID: "c", Status: models.TaskStatusVerifying, StartedAt: &started},
		"d": {ID: "d", Status: models.TaskStatusFailed, RetryCount: 3},
	}
	cp, err := store.Create(testSession("s1"), tasks, nil, models.TriggerError, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	restored, err := store.Restore("s1", cp.ID, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Tasks["a"].Status != models.TaskStatusCompleted {
		t.Error("completed task should stay completed")
	}
	if restored.Tasks["b"].Status != models.TaskStatusPending || restored.Tasks["b"].StartedAt != nil {
		t.Errorf("in_progress task should reset to pending: %+v", restored.Tasks["b"])
	}
	if restored.Tasks["c"].Status != models.TaskStatusPending {
		t.Error("verifying task should reset to pending")
	}
	if restored.Tasks["d"].Status != models.TaskStatusFailed {
		t.Error("failed task should stay failed without retryFailed")
	}

	retried, err := store.Restore("s1", cp.ID, true)
	if err != nil {
		t.Fatalf("Restore retryFailed: %v", err)
	}
	if retried.Tasks["d"].Status != models.TaskStatusPending || retried.Tasks["d"].RetryCount != 0 {
		t.Errorf("failed task should reset with retryFailed: %+v", retried.Tasks["d"])
	}
}

func TestLatest(t *testing.T) {
	store, err := NewStore(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Latest("s1"); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("Latest on empty session err = %v, want ErrCheckpointNotFound", err)
	}
	session := testSession("s1")
	if _, err := store.Create(session, testTasks(), nil, models.TriggerAuto, "first"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	cp2, err := store.Create(session, testTasks(), nil, models.TriggerAuto, "second")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	latest, err := store.Latest("s1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != cp2.ID {
		t.Errorf("Latest = %s, want %s", latest.ID, cp2.ID)
	}
}
