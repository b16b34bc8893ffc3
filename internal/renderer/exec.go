package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const maxCapturedLog = 64 << 10

// ExecRenderer runs the renderer binary in the allure CLI shape:
//
//	<bin> generate <rawDir> -o <reportDir> --clean [extra args...]
type ExecRenderer struct {
	Bin        string
	ExtraArgs  []string
	Timeout    time.Duration
	EntryPoint string
	Logger     *slog.Logger

	// WaitDelay bounds how long Run waits for the inherited output pipes
	// after the process is done or killed. Renderers that fork helpers
	// (JVM tools do) can leave a descendant holding the pipe; without the
	// delay Run would block until that descendant exits.
	WaitDelay time.Duration
}

func NewExecRenderer(bin string, timeout time.Duration, logger *slog.Logger) *ExecRenderer {
	return &ExecRenderer{
		Bin:        bin,
		Timeout:    timeout,
		EntryPoint: "index.html",
		Logger:     logger,
		WaitDelay:  3 * time.Second,
	}
}

// Check reports whether the renderer binary is resolvable, for readiness
// probes.
func (r *ExecRenderer) Check() error {
	_, err := exec.LookPath(r.Bin)
	if err != nil {
		return fmt.Errorf("renderer binary: %w", err)
	}
	return nil
}

func (r *ExecRenderer) Generate(ctx context.Context, rawDir, reportDir string) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{"generate", rawDir, "-o", reportDir, "--clean"}, r.ExtraArgs...)
	cmd := exec.CommandContext(runCtx, r.Bin, args...)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 3 * time.Second
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	log := tail(output.Bytes(), maxCapturedLog)
	if r.Logger != nil {
		r.Logger.Debug("renderer finished",
			"bin", r.Bin,
			"raw_dir", rawDir,
			"duration_ms", elapsed.Milliseconds(),
			"error", err)
	}

	// ErrWaitDelay means the renderer itself exited zero but an orphaned
	// descendant still held the output pipe; the run can proceed on the
	// output that was captured.
	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return timeoutFailure(log)
		}
		return toolFailure(log)
	}

	return r.verifyOutput(reportDir)
}

// verifyOutput guards against a renderer that exits zero without producing
// a usable report.
func (r *ExecRenderer) verifyOutput(reportDir string) error {
	entries, err := os.ReadDir(reportDir)
	if err != nil {
		return malformedOutput(fmt.Sprintf("report directory unreadable: %v", err))
	}
	if len(entries) == 0 {
		return malformedOutput("report directory is empty")
	}
	entryPoint := r.EntryPoint
	if entryPoint == "" {
		entryPoint = "index.html"
	}
	if _, err := os.Stat(filepath.Join(reportDir, entryPoint)); err != nil {
		return malformedOutput(fmt.Sprintf("report entry point %s missing", entryPoint))
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(bytes.TrimSpace(b))
	}
	return string(bytes.TrimSpace(b[len(b)-n:]))
}
