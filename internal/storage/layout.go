// Package storage maps (project, run) identities to paths under the data
// root and owns the stage/publish protocol. Final paths only ever appear via
// atomic rename from a staging directory; a partially written publish is
// never observable.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	stagingDirName = ".staging"
	rawDirName     = "raw"
	reportDirName  = "report"
)

// Error wraps filesystem failures during stage/publish so callers can map
// them to a storage outcome without inspecting errno values.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Layout resolves the on-disk location of every project and run.
//
//	<root>/<project>/<run_id>/raw/     extracted upload
//	<root>/<project>/<run_id>/report/  rendered output
//	<root>/.staging/                   private staging area
type Layout struct {
	Root string
}

func NewLayout(root string) (Layout, error) {
	if root == "" {
		return Layout{}, &Error{Op: "init", Path: root, Err: fmt.Errorf("data root is required")}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, &Error{Op: "init", Path: root, Err: err}
	}
	for _, dir := range []string{abs, filepath.Join(abs, stagingDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Layout{}, &Error{Op: "init", Path: dir, Err: err}
		}
	}
	return Layout{Root: abs}, nil
}

func (l Layout) ProjectDir(project string) string {
	return filepath.Join(l.Root, project)
}

func (l Layout) RunDir(project, runID string) string {
	return filepath.Join(l.Root, project, runID)
}

func (l Layout) RawDir(project, runID string) string {
	return filepath.Join(l.RunDir(project, runID), rawDirName)
}

func (l Layout) ReportDir(project, runID string) string {
	return filepath.Join(l.RunDir(project, runID), reportDirName)
}

func (l Layout) stagingRoot() string {
	return filepath.Join(l.Root, stagingDirName)
}

// Stage creates a fresh private staging directory for a run. The caller owns
// the directory until Publish or Discard.
func (l Layout) Stage(project, runID string) (string, error) {
	dir, err := os.MkdirTemp(l.stagingRoot(), fmt.Sprintf("%s-%s-*", project, runID))
	if err != nil {
		return "", &Error{Op: "stage", Path: l.stagingRoot(), Err: err}
	}
	return dir, nil
}

// Discard removes a staging directory and everything under it.
func (l Layout) Discard(staging string) {
	_ = os.RemoveAll(staging)
}

// WriteCheck verifies the data root is usable, for readiness probes.
func (l Layout) WriteCheck() error {
	f, err := os.CreateTemp(l.stagingRoot(), "probe-*")
	if err != nil {
		return &Error{Op: "probe", Path: l.stagingRoot(), Err: err}
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
