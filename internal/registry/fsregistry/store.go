// Package fsregistry implements the run registry on the filesystem, storing
// registry records next to the run data they describe:
//
//	<root>/<project>/project.json
//	<root>/<project>/<run_id>/run.json
//
// Records are written via tmp + rename so readers never observe partial
// JSON. A per-project mutex makes mutations linearizable per project.
package fsregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/reporthub-labs/reporthub-go/internal/domain"
	"github.com/reporthub-labs/reporthub-go/internal/registry"
	"github.com/reporthub-labs/reporthub-go/internal/storage"
)

const (
	projectFileName = "project.json"
	runFileName     = "run.json"
)

type Store struct {
	layout storage.Layout

	mu       sync.Mutex
	projects map[string]*sync.Mutex
}

func New(layout storage.Layout) *Store {
	return &Store{
		layout:   layout,
		projects: make(map[string]*sync.Mutex),
	}
}

// projectLock returns the mutex for one project, creating it lazily. Locks
// are never removed; the map is bounded by the number of distinct projects.
func (s *Store) projectLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.projects[name]
	if !ok {
		lock = &sync.Mutex{}
		s.projects[name] = lock
	}
	return lock
}

func (s *Store) projectFile(name string) string {
	return filepath.Join(s.layout.ProjectDir(name), projectFileName)
}

func (s *Store) runFile(project, runID string) string {
	return filepath.Join(s.layout.RunDir(project, runID), runFileName)
}

func (s *Store) CreateProject(ctx context.Context, name string) error {
	if err := domain.ValidateProjectName(name); err != nil {
		return err
	}
	lock := s.projectLock(name)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.projectFile(name)); err == nil {
		return registry.ErrAlreadyExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return s.writeProject(domain.Project{Name: name, CreatedAt: time.Now().UTC()})
}

func (s *Store) ensureProject(name string) error {
	if _, err := os.Stat(s.projectFile(name)); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return s.writeProject(domain.Project{Name: name, CreatedAt: time.Now().UTC()})
}

func (s *Store) writeProject(project domain.Project) error {
	if err := os.MkdirAll(s.layout.ProjectDir(project.Name), 0o755); err != nil {
		return err
	}
	return writeJSONAtomic(s.projectFile(project.Name), project)
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	lock := s.projectLock(run.Project)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureProject(run.Project); err != nil {
		return err
	}

	runFile := s.runFile(run.Project, run.ID)
	if _, err := os.Stat(runFile); err == nil {
		return registry.ErrAlreadyExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(runFile), 0o755); err != nil {
		return err
	}
	return writeJSONAtomic(runFile, run)
}

// GetRun treats syntactically invalid identifiers as absent: both are joined
// into filesystem paths, so separator or dot-dot forms must not reach the
// path layer.
func (s *Store) GetRun(ctx context.Context, project, runID string) (domain.Run, error) {
	if err := domain.ValidateProjectName(project); err != nil {
		return domain.Run{}, registry.ErrNotFound
	}
	if err := domain.ValidateRunID(runID); err != nil {
		return domain.Run{}, registry.ErrNotFound
	}
	return s.readRun(project, runID)
}

func (s *Store) readRun(project, runID string) (domain.Run, error) {
	raw, err := os.ReadFile(s.runFile(project, runID))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Run{}, registry.ErrNotFound
	}
	if err != nil {
		return domain.Run{}, err
	}
	var run domain.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return domain.Run{}, fmt.Errorf("decode run record %s/%s: %w", project, runID, err)
	}
	return run, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	entries, err := os.ReadDir(s.layout.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var projects []domain.Project
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(s.projectFile(entry.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			// Not a project directory (staging area, stray files).
			continue
		}
		if err != nil {
			return nil, err
		}
		var project domain.Project
		if err := json.Unmarshal(raw, &project); err != nil {
			return nil, fmt.Errorf("decode project record %s: %w", entry.Name(), err)
		}
		projects = append(projects, project)
	}

	sort.Slice(projects, func(i, j int) bool {
		if !projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].CreatedAt.Before(projects[j].CreatedAt)
		}
		return projects[i].Name < projects[j].Name
	})
	return projects, nil
}

func (s *Store) ListRuns(ctx context.Context, project string) ([]domain.Run, error) {
	if err := domain.ValidateProjectName(project); err != nil {
		return nil, registry.ErrNotFound
	}
	if _, err := os.Stat(s.projectFile(project)); errors.Is(err, fs.ErrNotExist) {
		return nil, registry.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.layout.ProjectDir(project))
	if err != nil {
		return nil, err
	}

	var runs []domain.Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.readRun(project, entry.Name())
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

func (s *Store) LatestReadyRun(ctx context.Context, project string) (domain.Run, error) {
	runs, err := s.ListRuns(ctx, project)
	if err != nil {
		return domain.Run{}, err
	}
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Status == domain.StatusReady {
			return runs[i], nil
		}
	}
	return domain.Run{}, registry.ErrNotFound
}

func (s *Store) UpdateRunStatus(ctx context.Context, project, runID string, status domain.Status, reason, logTail string) error {
	if !status.Valid() {
		return fmt.Errorf("unknown run status: %q", status)
	}
	if err := domain.ValidateProjectName(project); err != nil {
		return registry.ErrNotFound
	}
	if err := domain.ValidateRunID(runID); err != nil {
		return registry.ErrNotFound
	}
	lock := s.projectLock(project)
	lock.Lock()
	defer lock.Unlock()

	run, err := s.readRun(project, runID)
	if err != nil {
		return err
	}
	if !run.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", registry.ErrIllegalTransition, run.Status, status)
	}

	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	if status == domain.StatusFailed {
		run.Reason = reason
		run.LogTail = logTail
	} else {
		run.Reason = ""
		run.LogTail = ""
	}
	return writeJSONAtomic(s.runFile(project, runID), run)
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := os.Stat(s.layout.Root)
	return err
}

func (s *Store) Close() error { return nil }

// writeJSONAtomic writes v as JSON via a temp file in the same directory
// followed by rename, so a concurrent reader sees either the old record or
// the new one, never a torn write.
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".record-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
