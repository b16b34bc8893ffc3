package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/reporthub-labs/reporthub-go/internal/archive"
	"github.com/reporthub-labs/reporthub-go/internal/domain"
)

const (
	resultsFieldName = "results"
	metaFieldName    = "meta"

	maxMetaBytes = 1 << 20
)

// spooledBundle is an uploaded results archive written to the staging area,
// hashed and size-checked on the way in.
type spooledBundle struct {
	path   string
	size   int64
	sha256 string
	meta   []byte
}

var errBundleTooLarge = errors.New("bundle exceeds size limit")

func (api *reporthubAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if err := domain.ValidateProjectName(project); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_project_name")
		return
	}

	runID := uuid.NewString()
	staging, err := api.layout.Stage(project, runID)
	if err != nil {
		api.logger.Error("stage upload failed", "project", project, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer api.layout.Discard(staging)

	// Hard backstop above the configured bundle cap; the precise limit is
	// enforced while spooling.
	r.Body = http.MaxBytesReader(w, r.Body, api.limits.MaxBundleBytes+maxMetaBytes+(1<<20))

	bundle, err := api.spoolUpload(r, staging)
	if err != nil {
		switch {
		case errors.Is(err, errBundleTooLarge):
			api.writeError(w, r, http.StatusRequestEntityTooLarge, "bundle_too_large")
		default:
			api.writeError(w, r, http.StatusBadRequest, "invalid_upload")
		}
		return
	}

	// Validate the archive completely before any run exists: a rejected
	// upload must leave no trace in the registry.
	rawStage := filepath.Join(staging, "raw")
	if err := archive.Extract(r.Context(), bundle.path, rawStage, api.limits.ArchiveLimits()); err != nil {
		var valErr *archive.ValidationError
		if errors.As(err, &valErr) {
			api.writeError(w, r, http.StatusBadRequest, "bundle_invalid")
			return
		}
		api.logger.Error("extract bundle failed", "project", project, "run_id", runID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var objectKey string
	if api.archiver != nil {
		objectKey, err = api.archiveBundle(r, project, runID, bundle)
		if err != nil {
			// Archival is best effort: the authoritative copy is the
			// extracted tree on disk.
			api.logger.Warn("bundle archival failed",
				"project", project, "run_id", runID, "error", err)
			objectKey = ""
		}
	}

	now := time.Now().UTC()
	run := domain.Run{
		ID:              runID,
		Project:         project,
		Status:          domain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Meta:            domain.NormalizeMeta(bundle.meta),
		BundleSHA256:    bundle.sha256,
		BundleSizeBytes: bundle.size,
		BundleObjectKey: objectKey,
	}
	if err := api.registry.CreateRun(r.Context(), run); err != nil {
		api.logger.Error("create run failed", "project", project, "run_id", runID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if err := api.layout.Publish(rawStage, api.layout.RawDir(project, runID)); err != nil {
		api.logger.Error("publish raw results failed", "project", project, "run_id", runID, "error", err)
		api.failRun(project, runID, domain.ReasonStorage, err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	// Generation is detached from the request: the client polls the run,
	// and a dropped connection never aborts a build in progress.
	go api.generateRun(run)

	api.logger.Info("run accepted",
		"project", project,
		"run_id", runID,
		"bundle_bytes", bundle.size,
		"bundle_sha256", bundle.sha256)
	api.writeJSON(w, http.StatusAccepted, run)
}

// spoolUpload streams the multipart body into the staging directory. The
// results part is hashed and size-capped on the fly; the meta part is read
// into memory.
func (api *reporthubAPI) spoolUpload(r *http.Request, staging string) (spooledBundle, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return spooledBundle{}, fmt.Errorf("multipart body required: %w", err)
	}

	var bundle spooledBundle
	seenResults := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return spooledBundle{}, fmt.Errorf("read multipart body: %w", err)
		}

		switch part.FormName() {
		case resultsFieldName:
			if seenResults {
				_ = part.Close()
				return spooledBundle{}, errors.New("duplicate results part")
			}
			seenResults = true
			bundle.path = filepath.Join(staging, "bundle.zip")
			bundle.size, bundle.sha256, err = api.spoolResults(part, bundle.path)
			_ = part.Close()
			if err != nil {
				return spooledBundle{}, err
			}
		case metaFieldName:
			bundle.meta, err = io.ReadAll(io.LimitReader(part, maxMetaBytes))
			_ = part.Close()
			if err != nil {
				return spooledBundle{}, fmt.Errorf("read meta part: %w", err)
			}
		default:
			// Unknown parts are drained and ignored.
			_, _ = io.Copy(io.Discard, part)
			_ = part.Close()
		}
	}

	if !seenResults {
		return spooledBundle{}, errors.New("results part is required")
	}
	if bundle.size == 0 {
		return spooledBundle{}, errors.New("results part is empty")
	}
	return bundle, nil
}

func (api *reporthubAPI) spoolResults(part *multipart.Part, path string) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(part, api.limits.MaxBundleBytes+1))
	if err != nil {
		return 0, "", fmt.Errorf("spool results: %w", err)
	}
	if written > api.limits.MaxBundleBytes {
		return 0, "", errBundleTooLarge
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (api *reporthubAPI) archiveBundle(r *http.Request, project, runID string, bundle spooledBundle) (string, error) {
	f, err := os.Open(bundle.path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return api.archiver.StoreBundle(r.Context(), project, runID, f, bundle.size, bundle.sha256)
}
