package main

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/reporthub-labs/reporthub-go/internal/domain"
	"github.com/reporthub-labs/reporthub-go/internal/registry"
)

// handleReportRedirect normalizes /ui/{project}/runs/{run_id} to the
// trailing-slash form so relative links inside the report resolve.
func (api *reporthubAPI) handleReportRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
}

func (api *reporthubAPI) handleReportFile(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	runID := r.PathValue("run_id")
	// Both identifiers are joined into the report path below; an encoded
	// separator in either must not reach the filesystem.
	if domain.ValidateProjectName(project) != nil || domain.ValidateRunID(runID) != nil {
		api.writeError(w, r, http.StatusNotFound, "run_not_found")
		return
	}

	run, err := api.registry.GetRun(r.Context(), project, runID)
	if errors.Is(err, registry.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "run_not_found")
		return
	}
	if err != nil {
		api.logger.Error("get run failed", "project", project, "run_id", runID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if run.Status != domain.StatusReady {
		api.writeError(w, r, http.StatusNotFound, "report_not_ready")
		return
	}

	rel, ok := reportFilePath(r.PathValue("path"))
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_path")
		return
	}

	full := filepath.Join(api.layout.ReportDir(project, runID), filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "file_not_found")
		return
	}
	if info.IsDir() {
		index := filepath.Join(full, "index.html")
		if _, err := os.Stat(index); err != nil {
			api.writeError(w, r, http.StatusNotFound, "file_not_found")
			return
		}
		full = index
	}

	http.ServeFile(w, r, full)
}

// handleLatestRedirect points /ui/{project}/latest/... at the newest ready
// run. The redirect is temporary: the target changes as runs complete.
func (api *reporthubAPI) handleLatestRedirect(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if err := domain.ValidateProjectName(project); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_project_name")
		return
	}

	run, err := api.registry.LatestReadyRun(r.Context(), project)
	if errors.Is(err, registry.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "no_ready_run")
		return
	}
	if err != nil {
		api.logger.Error("resolve latest run failed", "project", project, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	rel, ok := reportFilePath(r.PathValue("path"))
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_path")
		return
	}

	target := "/ui/" + url.PathEscape(project) + "/runs/" + url.PathEscape(run.ID) + "/"
	if rel != "." {
		target += rel
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// reportFilePath cleans a report-relative request path and rejects any form
// that could escape the report directory. The router has already decoded the
// path value, so the bytes are taken literally (a file named "50%.html" stays
// "50%.html"). The cleaned path is "." for the report root.
func reportFilePath(raw string) (string, bool) {
	if strings.Contains(raw, "\x00") || strings.Contains(raw, "\\") {
		return "", false
	}
	cleaned := path.Clean("/" + raw)
	rel := strings.TrimPrefix(cleaned, "/")
	if rel == "" {
		return ".", true
	}
	return rel, true
}
