// Package archive extracts uploaded zip bundles into a destination
// directory, enforcing entry-count and size ceilings and rejecting entries
// that would escape the destination.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits caps what a single bundle may extract to.
type Limits struct {
	MaxEntries    int
	MaxTotalBytes int64
	MaxEntryBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxEntries:    10_000,
		MaxTotalBytes: 2 << 30,   // 2 GiB
		MaxEntryBytes: 512 << 20, // 512 MiB
	}
}

func (l Limits) Validate() error {
	if l.MaxEntries <= 0 {
		return fmt.Errorf("max entries must be positive")
	}
	if l.MaxTotalBytes <= 0 {
		return fmt.Errorf("max total bytes must be positive")
	}
	if l.MaxEntryBytes <= 0 {
		return fmt.Errorf("max entry bytes must be positive")
	}
	return nil
}

// ValidationError marks an archive the caller sent as unacceptable, as
// opposed to a local I/O failure while writing extracted files.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Extract unpacks the zip at zipPath into destDir. Every entry path is
// sanitized before use; absolute paths, drive-letter paths and any ".."
// segment are rejected. The ceilings in limits are enforced against declared
// and actual sizes, so a mismatching local header cannot smuggle extra bytes.
// Cancellation of ctx aborts extraction between writes.
func Extract(ctx context.Context, zipPath, destDir string, limits Limits) error {
	if err := limits.Validate(); err != nil {
		return err
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return validationf("not a valid zip archive: %v", err)
	}
	defer r.Close()

	if len(r.File) > limits.MaxEntries {
		return validationf("archive has too many entries (%d > %d)", len(r.File), limits.MaxEntries)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	var totalBytes int64
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := sanitizeEntryPath(f.Name)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)
		if !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
			return validationf("entry escapes destination: %q", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", rel, err)
			}
			continue
		}

		if int64(f.UncompressedSize64) > limits.MaxEntryBytes {
			return validationf("entry too large: %q (%d bytes)", f.Name, f.UncompressedSize64)
		}

		written, err := extractFile(ctx, f, target, limits.MaxEntryBytes)
		if err != nil {
			return err
		}
		totalBytes += written
		if totalBytes > limits.MaxTotalBytes {
			return validationf("archive exceeds total size ceiling (%d bytes)", limits.MaxTotalBytes)
		}
	}

	return nil
}

func extractFile(ctx context.Context, f *zip.File, target string, maxEntryBytes int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create parent of %s: %w", f.Name, err)
	}

	in, err := f.Open()
	if err != nil {
		return 0, validationf("corrupt entry %q: %v", f.Name, err)
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", f.Name, err)
	}

	var written int64
	buf := make([]byte, 64<<10)
	for {
		if err := ctx.Err(); err != nil {
			_ = out.Close()
			return written, err
		}
		n, readErr := in.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > maxEntryBytes {
				_ = out.Close()
				return written, validationf("entry exceeds size ceiling: %q", f.Name)
			}
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				_ = out.Close()
				return written, fmt.Errorf("write %s: %w", f.Name, writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = out.Close()
			return written, validationf("corrupt entry %q: %v", f.Name, readErr)
		}
	}
	return written, out.Close()
}

// sanitizeEntryPath normalizes a zip entry name to a safe relative path.
func sanitizeEntryPath(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")

	if strings.HasPrefix(name, "/") {
		return "", validationf("absolute entry path not allowed: %q", name)
	}
	if len(name) >= 2 && name[1] == ':' {
		return "", validationf("drive-letter entry path not allowed: %q", name)
	}

	var parts []string
	for _, part := range strings.Split(name, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", validationf("path traversal not allowed: %q", name)
		default:
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "", validationf("empty entry path: %q", name)
	}
	return filepath.Join(parts...), nil
}
