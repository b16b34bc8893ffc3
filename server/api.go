package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/reporthub-labs/reporthub-go/internal/limits"
	"github.com/reporthub-labs/reporthub-go/internal/locker"
	"github.com/reporthub-labs/reporthub-go/internal/platform/objectstore"
	"github.com/reporthub-labs/reporthub-go/internal/registry"
	"github.com/reporthub-labs/reporthub-go/internal/renderer"
	"github.com/reporthub-labs/reporthub-go/internal/storage"
)

type reporthubAPI struct {
	logger   *slog.Logger
	layout   storage.Layout
	registry registry.Registry
	renderer renderer.Renderer
	locks    *locker.Manager
	limits   limits.Spec

	// archiver is nil unless bundle archival is configured.
	archiver *objectstore.Archiver
}

func newReporthubAPI(
	logger *slog.Logger,
	layout storage.Layout,
	reg registry.Registry,
	rend renderer.Renderer,
	locks *locker.Manager,
	limitsSpec limits.Spec,
	archiver *objectstore.Archiver,
) *reporthubAPI {
	return &reporthubAPI{
		logger:   logger,
		layout:   layout,
		registry: reg,
		renderer: rend,
		locks:    locks,
		limits:   limitsSpec,
		archiver: archiver,
	}
}

func (api *reporthubAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/projects", api.handleListProjects)
	mux.HandleFunc("POST /api/v1/projects", api.handleCreateProject)
	mux.HandleFunc("GET /api/v1/projects/{project}/runs", api.handleListRuns)
	mux.HandleFunc("POST /api/v1/projects/{project}/runs", api.handleCreateRun)
	mux.HandleFunc("GET /api/v1/projects/{project}/runs/{run_id}", api.handleGetRun)

	mux.HandleFunc("GET /ui/{project}/runs/{run_id}", api.handleReportRedirect)
	mux.HandleFunc("GET /ui/{project}/runs/{run_id}/{path...}", api.handleReportFile)
	mux.HandleFunc("GET /ui/{project}/latest", api.handleLatestRedirect)
	mux.HandleFunc("GET /ui/{project}/latest/{path...}", api.handleLatestRedirect)
}

func (api *reporthubAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *reporthubAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
