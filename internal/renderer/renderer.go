// Package renderer invokes the external report-rendering tool. The tool is
// an opaque subprocess that reads an extracted results directory and writes
// a report directory; this package owns no knowledge of the report format.
package renderer

import (
	"context"
	"fmt"

	"github.com/reporthub-labs/reporthub-go/internal/domain"
)

// Renderer turns a raw results directory into a report directory. It is an
// interface so the pipeline can be exercised in tests without spawning the
// real tool.
type Renderer interface {
	Generate(ctx context.Context, rawDir, reportDir string) error
}

// GenerationError classifies a failed generation. Reason is one of the
// domain failure reasons; Log carries the tail of the tool's combined
// output for diagnostics.
type GenerationError struct {
	Reason string
	Log    string
}

func (e *GenerationError) Error() string {
	if e.Log == "" {
		return fmt.Sprintf("report generation failed: %s", e.Reason)
	}
	return fmt.Sprintf("report generation failed: %s: %s", e.Reason, e.Log)
}

func toolFailure(log string) *GenerationError {
	return &GenerationError{Reason: domain.ReasonToolFailure, Log: log}
}

func timeoutFailure(log string) *GenerationError {
	return &GenerationError{Reason: domain.ReasonTimeout, Log: log}
}

func malformedOutput(detail string) *GenerationError {
	return &GenerationError{Reason: domain.ReasonMalformedOutput, Log: detail}
}
