// Package checkpoint persists checksummed snapshots of session state so
// an interrupted swarm can resume from its last durable point.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/seanmoran/hivemind/pkg/models"
)

// Common errors for checkpoint operations.
var (
	// ErrCheckpointNotFound indicates the requested checkpoint does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrChecksumMismatch indicates a stored snapshot failed integrity validation.
	ErrChecksumMismatch = errors.New("checkpoint checksum mismatch")
)

const fileExt = ".json.zst"

// Store writes and reads compressed checkpoint files under a base
// directory, one subdirectory per session.
type Store struct {
	mu         sync.Mutex
	baseDir    string
	maxPerSess int
}

// NewStore creates a checkpoint store rooted at baseDir. maxPerSession
// bounds how many checkpoints are retained per session; values below 1
// default to 10.
func NewStore(baseDir string, maxPerSession int) (*Store, error) {
	if maxPerSession < 1 {
		maxPerSession = 10
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{baseDir: baseDir, maxPerSess: maxPerSession}, nil
}

// Create snapshots the given session state and writes it durably. The
// checksum covers the serialized snapshot before the checksum field is
// set. Older checkpoints beyond the retention cap are evicted only
// after the new one is on disk.
func (s *Store) Create(session *models.SwarmSession, tasks map[string]*models.HierarchicalTask, agents map[string]*models.SwarmAgentConfig, trigger models.CheckpointTrigger, description string) (*models.Checkpoint, error) {
	if session == nil {
		return nil, errors.New("nil session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &models.Checkpoint{
		ID:          "cp-" + uuid.New().String()[:8],
		SessionID:   session.ID,
		Timestamp:   time.Now().UTC(),
		Trigger:     trigger,
		Description: description,
		Session:     session,
		Tasks:       tasks,
		AgentStates: agents,
		Context:     session.Context,
	}

	// Checksum the snapshot with checksum and size cleared.
	payload, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	sum := sha256.Sum256(payload)
	cp.Checksum = hex.EncodeToString(sum[:])
	cp.SizeBytes = int64(len(payload))

	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Join(s.baseDir, session.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := writeCompressed(filepath.Join(dir, cp.ID+fileExt), data); err != nil {
		return nil, err
	}
	log.Printf("[checkpoint] created %s for session %s (%s, %d bytes)", cp.ID, session.ID, trigger, cp.SizeBytes)

	if err := s.evictLocked(dir); err != nil {
		// The new checkpoint is durable; eviction failure is not fatal.
		log.Printf("[checkpoint] eviction failed for session %s: %v", session.ID, err)
	}
	return cp, nil
}

// List returns the stored checkpoints for a session, newest first. A
// session with no checkpoints yields an empty list.
func (s *Store) List(sessionID string) ([]models.CheckpointInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	var infos []models.CheckpointInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		cp, err := readCheckpoint(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Printf("[checkpoint] skipping unreadable %s: %v", entry.Name(), err)
			continue
		}
		infos = append(infos, models.CheckpointInfo{
			ID:          cp.ID,
			SessionID:   cp.SessionID,
			Timestamp:   cp.Timestamp,
			Trigger:     cp.Trigger,
			Description: cp.Description,
			SizeBytes:   cp.SizeBytes,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp.After(infos[j].Timestamp) })
	return infos, nil
}

// Load reads one checkpoint and validates its checksum.
func (s *Store) Load(sessionID, checkpointID string) (*models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, sessionID, checkpointID+fileExt)
	cp, err := readCheckpoint(path)
	if err != nil {
		return nil, err
	}

	stored := cp.Checksum
	storedSize := cp.SizeBytes
	cp.Checksum = ""
	cp.SizeBytes = 0
	payload, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != stored {
		return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, ErrChecksumMismatch)
	}
	cp.Checksum = stored
	cp.SizeBytes = storedSize
	return cp, nil
}

// Latest returns the most recent checkpoint for a session.
func (s *Store) Latest(sessionID string) (*models.Checkpoint, error) {
	infos, err := s.List(sessionID)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrCheckpointNotFound
	}
	return s.Load(sessionID, infos[0].ID)
}

// Restore loads a checkpoint and normalizes task statuses for resume:
// work that was in flight at snapshot time goes back to pending, and
// failed tasks are reset too when retryFailed is set.
func (s *Store) Restore(sessionID, checkpointID string, retryFailed bool) (*models.Checkpoint, error) {
	cp, err := s.Load(sessionID, checkpointID)
	if err != nil {
		return nil, err
	}
	for _, task := range cp.Tasks {
		switch task.Status {
		case models.TaskStatusInProgress, models.TaskStatusVerifying:
			task.Status = models.TaskStatusPending
			task.StartedAt = nil
		case models.TaskStatusFailed:
			if retryFailed {
				task.Status = models.TaskStatusPending
				task.StartedAt = nil
				task.CompletedAt = nil
				task.RetryCount = 0
			}
		}
	}
	log.Printf("[checkpoint] restored %s for session %s", checkpointID, sessionID)
	return cp, nil
}

// Delete removes one checkpoint file.
func (s *Store) Delete(sessionID, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, sessionID, checkpointID+fileExt)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("checkpoint %s: %w", checkpointID, ErrCheckpointNotFound)
		}
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// evictLocked drops the oldest checkpoints in dir past the retention cap.
func (s *Store) evictLocked(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read session dir: %w", err)
	}
	type aged struct {
		name string
		mod  time.Time
	}
	var files []aged
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{name: entry.Name(), mod: info.ModTime()})
	}
	if len(files) <= s.maxPerSess {
		return nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files[:len(files)-s.maxPerSess] {
		if err := os.Remove(filepath.Join(dir, f.name)); err != nil {
			return fmt.Errorf("evict %s: %w", f.name, err)
		}
		log.Printf("[checkpoint] evicted %s", f.name)
	}
	return nil
}

// writeCompressed writes zstd-compressed data to path via a temp file
// and rename, so a crash never leaves a partial checkpoint behind.
func writeCompressed(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// readCheckpoint reads and decompresses one checkpoint file.
func readCheckpoint(path string) (*models.Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrCheckpointNotFound)
		}
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
