package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/reporthub-labs/reporthub-go/internal/domain"
	"github.com/reporthub-labs/reporthub-go/internal/registry"
)

func (api *reporthubAPI) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := api.registry.ListProjects(r.Context())
	if err != nil {
		api.logger.Error("list projects failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

type createProjectRequest struct {
	Name string `json:"name"`
}

func (api *reporthubAPI) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	name := strings.TrimSpace(req.Name)
	if err := domain.ValidateProjectName(name); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_project_name")
		return
	}

	err := api.registry.CreateProject(r.Context(), name)
	if errors.Is(err, registry.ErrAlreadyExists) {
		api.writeError(w, r, http.StatusConflict, "project_exists")
		return
	}
	if err != nil {
		api.logger.Error("create project failed", "project", name, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusCreated, map[string]any{"name": name})
}

func (api *reporthubAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if err := domain.ValidateProjectName(project); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_project_name")
		return
	}

	runs, err := api.registry.ListRuns(r.Context(), project)
	if errors.Is(err, registry.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "project_not_found")
		return
	}
	if err != nil {
		api.logger.Error("list runs failed", "project", project, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (api *reporthubAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	runID := r.PathValue("run_id")

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
	api.writeJSON(w, http.StatusOK, run)
}
