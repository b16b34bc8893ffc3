package main

import (
	"context"
	"errors"
	"time"

	"github.com/reporthub-labs/reporthub-go/internal/domain"
	"github.com/reporthub-labs/reporthub-go/internal/locker"
	"github.com/reporthub-labs/reporthub-go/internal/registry"
	"github.com/reporthub-labs/reporthub-go/internal/renderer"
	"github.com/reporthub-labs/reporthub-go/internal/storage"
)

const statusUpdateTimeout = 5 * time.Second

// generateRun drives one run from pending to a terminal state. It runs on a
// background context so it is immune to the uploader disconnecting.
func (api *reporthubAPI) generateRun(run domain.Run) {
	ctx := context.Background()

	err := api.locks.WithProjectLock(ctx, run.Project, func(ctx context.Context) error {
		return api.buildReport(ctx, run)
	})
	if err == nil {
		api.logger.Info("run ready", "project", run.Project, "run_id", run.ID)
		return
	}

	reason, logTail := classifyFailure(err)
	api.logger.Error("run failed",
		"project", run.Project,
		"run_id", run.ID,
		"reason", reason,
		"error", err)
	api.failRun(run.Project, run.ID, reason, logTail)
}

// buildReport runs with the project build lock held.
func (api *reporthubAPI) buildReport(ctx context.Context, run domain.Run) error {
	if err := api.registry.UpdateRunStatus(ctx, run.Project, run.ID, domain.StatusGenerating, "", ""); err != nil {
		return err
	}

	staging, err := api.layout.Stage(run.Project, run.ID)
	if err != nil {
		return err
	}
	defer api.layout.Discard(staging)

	rawDir := api.layout.RawDir(run.Project, run.ID)
	if err := api.renderer.Generate(ctx, rawDir, staging); err != nil {
		return err
	}

	if err := api.layout.Publish(staging, api.layout.ReportDir(run.Project, run.ID)); err != nil {
		return err
	}

	return api.registry.UpdateRunStatus(ctx, run.Project, run.ID, domain.StatusReady, "", "")
}

func classifyFailure(err error) (reason, logTail string) {
	var genErr *renderer.GenerationError
	switch {
	case errors.Is(err, locker.ErrBusy):
		return domain.ReasonBusy, "timed out waiting for the project build lock"
	case errors.As(err, &genErr):
		return genErr.Reason, genErr.Log
	default:
		var storeErr *storage.Error
		if errors.As(err, &storeErr) {
			return domain.ReasonStorage, storeErr.Error()
		}
		return domain.ReasonStorage, err.Error()
	}
}

// failRun records a terminal failure, tolerating races where the run already
// reached a terminal state.
func (api *reporthubAPI) failRun(project, runID, reason, logTail string) {
	ctx, cancel := context.WithTimeout(context.Background(), statusUpdateTimeout)
	defer cancel()

	err := api.registry.UpdateRunStatus(ctx, project, runID, domain.StatusFailed, reason, logTail)
	if err != nil && !errors.Is(err, registry.ErrIllegalTransition) {
		api.logger.Error("record run failure failed",
			"project", project,
			"run_id", runID,
			"reason", reason,
			"error", err)
	}
}
