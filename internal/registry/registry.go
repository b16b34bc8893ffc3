// Package registry indexes projects and their runs. Two backends implement
// it: fsregistry keeps state next to the run data on disk, pgregistry keeps
// it in Postgres.
package registry

import (
	"context"
	"errors"

	"github.com/reporthub-labs/reporthub-go/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrIllegalTransition is returned when a status update would violate
	// the run lifecycle (for example ready -> generating).
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Registry stores project and run state. Mutations are linearizable per
// project: concurrent writers to the same project observe a consistent
// total order.
type Registry interface {
	// CreateProject fails with ErrAlreadyExists when the exact name is
	// taken. Names are compared case-sensitively.
	CreateProject(ctx context.Context, name string) error

	// CreateRun records a new run, creating its project implicitly when
	// absent. The run arrives fully populated (fresh id, status pending).
	CreateRun(ctx context.Context, run domain.Run) error

	GetRun(ctx context.Context, project, runID string) (domain.Run, error)

	// ListProjects returns projects in insertion order.
	ListProjects(ctx context.Context) ([]domain.Project, error)

	// ListRuns returns a project's runs by creation time ascending.
	ListRuns(ctx context.Context, project string) ([]domain.Run, error)

	// LatestReadyRun returns the newest run with status ready.
	LatestReadyRun(ctx context.Context, project string) (domain.Run, error)

	// UpdateRunStatus applies a lifecycle transition. Reason and logTail
	// are recorded for failed runs and ignored otherwise.
	UpdateRunStatus(ctx context.Context, project, runID string, status domain.Status, reason, logTail string) error

	// Ping reports whether the backend is reachable, for readiness probes.
	Ping(ctx context.Context) error

	Close() error
}
