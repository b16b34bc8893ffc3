package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a run. Transitions are
// pending -> generating -> ready | failed. Ready and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusGenerating, StatusReady, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Terminal states accept no further transitions.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusGenerating || next == StatusFailed
	case StatusGenerating:
		return next == StatusReady || next == StatusFailed
	default:
		return false
	}
}

// Failure reasons recorded on runs that end up in StatusFailed.
const (
	ReasonToolFailure     = "tool-failure"
	ReasonTimeout         = "timeout"
	ReasonMalformedOutput = "malformed-output"
	ReasonStorage         = "storage"
	ReasonBusy            = "busy"
)

// Run is one submitted result bundle and its lifecycle through extraction,
// rendering and publication.
type Run struct {
	ID        string    `json:"run_id"`
	Project   string    `json:"project"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Meta is the caller-supplied metadata document, stored and returned
	// verbatim. Opaque to the service.
	Meta json.RawMessage `json:"meta"`

	BundleSHA256    string `json:"bundle_sha256,omitempty"`
	BundleSizeBytes int64  `json:"bundle_size_bytes,omitempty"`
	BundleObjectKey string `json:"bundle_object_key,omitempty"`

	// Reason and LogTail are set only when Status is failed.
	Reason  string `json:"reason,omitempty"`
	LogTail string `json:"log_tail,omitempty"`
}

const maxRunIDLen = 128

// ValidateRunID enforces path-safe run identifiers: 1..128 characters of
// [A-Za-z0-9._-], no leading dot. Run ids are joined into filesystem paths,
// so separator and dot-dot forms must never get that far.
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	if len(id) > maxRunIDLen {
		return fmt.Errorf("run id too long (%d > %d)", len(id), maxRunIDLen)
	}
	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("run id must not start with a dot: %q", id)
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return fmt.Errorf("run id contains invalid character %q", c)
		}
	}
	return nil
}

func (r Run) Validate() error {
	if err := ValidateRunID(r.ID); err != nil {
		return err
	}
	if err := ValidateProjectName(r.Project); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown run status: %q", r.Status)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("run created_at is required")
	}
	return nil
}

// NormalizeMeta returns the metadata to persist for an upload. The policy is
// lenient: absent or malformed metadata degrades to an empty object instead
// of failing the upload.
func NormalizeMeta(raw []byte) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}
