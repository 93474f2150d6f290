// Package runstore persists run records for process-based deployments.
// The orchestration framework owns run state; this store is the agent's
// local bookkeeping of it.
package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound indicates no record exists for the run id.
var ErrNotFound = errors.New("run not found")

// Store exposes run record lookup and mutation. Tag writes are
// last-write-wins per key.
type Store interface {
	// GetRun returns the record for a run id, or ErrNotFound.
	GetRun(runID string) (*Record, error)

	// Write persists a full record.
	Write(record *Record) error

	// AddRunTags merges tags into the run's tag map.
	AddRunTags(runID string, tags map[string]string) error

	// ReportRunCanceling marks the run as cancellation-in-progress.
	ReportRunCanceling(runID string) error

	// List returns all records, newest first.
	List() ([]Record, error)
}

// FileStore persists records under an on-disk directory.
//
// Directory layout:
//
//	<root>/<run_id>/run.json
//	<root>/<run_id>/stdout.log
//	<root>/<run_id>/stderr.log
type FileStore struct {
	root string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(root string) *FileStore {
	return &FileStore{root: strings.TrimSpace(root)}
}

func (s *FileStore) RootDir() string {
	return s.root
}

func (s *FileStore) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *FileStore) RunPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "run.json")
}

// StdoutPath returns the per-run stdout log destination.
func (s *FileStore) StdoutPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "stdout.log")
}

// StderrPath returns the per-run stderr log destination.
func (s *FileStore) StderrPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "stderr.log")
}

func (s *FileStore) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("run store root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

func (s *FileStore) Write(record *Record) error {
	if record == nil {
		return fmt.Errorf("run record is nil")
	}
	runID := strings.TrimSpace(record.RunID)
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	runDir := s.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(runDir, "run.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}

	if err := os.Rename(tmpName, s.RunPath(runID)); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}

func (s *FileStore) GetRun(runID string) (*Record, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	b, err := os.ReadFile(s.RunPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("run.json is empty")
	}

	var record Record
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse run.json: %w", err)
	}
	return &record, nil
}

func (s *FileStore) AddRunTags(runID string, tags map[string]string) error {
	record, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	if record.Tags == nil {
		record.Tags = make(map[string]string, len(tags))
	}
	for k, v := range tags {
		record.Tags[k] = v
	}
	return s.Write(record)
}

func (s *FileStore) ReportRunCanceling(runID string) error {
	record, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	record.Status = StatusCanceling
	return s.Write(record)
}

func (s *FileStore) List() ([]Record, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.GetRun(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return runSortTime(out[i]).After(runSortTime(out[j]))
	})

	return out, nil
}

func runSortTime(r Record) time.Time {
	if r.StartedAt != nil {
		return r.StartedAt.UTC()
	}
	return r.CreatedAt.UTC()
}
