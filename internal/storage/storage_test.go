package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestLayout(t *testing.T) Layout {
	t.Helper()
	layout, err := NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout() err=%v", err)
	}
	return layout
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewLayout_RequiresRoot(t *testing.T) {
	if _, err := NewLayout(""); err == nil {
		t.Fatalf("NewLayout(\"\") expected error")
	}
}

func TestLayout_Paths(t *testing.T) {
	layout := newTestLayout(t)
	raw := layout.RawDir("myproj", "r1")
	if filepath.Dir(filepath.Dir(raw)) != layout.ProjectDir("myproj") {
		t.Fatalf("RawDir=%q not under project dir", raw)
	}
	if filepath.Base(raw) != "raw" {
		t.Fatalf("RawDir base=%q, want raw", filepath.Base(raw))
	}
	if filepath.Base(layout.ReportDir("myproj", "r1")) != "report" {
		t.Fatalf("ReportDir base mismatch")
	}
}

func TestStage_PrivateAndFresh(t *testing.T) {
	layout := newTestLayout(t)
	a, err := layout.Stage("myproj", "r1")
	if err != nil {
		t.Fatalf("Stage() err=%v", err)
	}
	b, err := layout.Stage("myproj", "r1")
	if err != nil {
		t.Fatalf("Stage() err=%v", err)
	}
	if a == b {
		t.Fatalf("Stage() returned the same directory twice: %q", a)
	}
	entries, err := os.ReadDir(a)
	if err != nil {
		t.Fatalf("ReadDir(%q) err=%v", a, err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging dir not empty: %d entries", len(entries))
	}
}

func TestPublish_AtomicMove(t *testing.T) {
	layout := newTestLayout(t)
	staging, err := layout.Stage("myproj", "r1")
	if err != nil {
		t.Fatalf("Stage() err=%v", err)
	}
	writeFile(t, filepath.Join(staging, "index.html"), "<html>")
	writeFile(t, filepath.Join(staging, "data", "suite.json"), "{}")

	final := layout.ReportDir("myproj", "r1")
	if err := layout.Publish(staging, final); err != nil {
		t.Fatalf("Publish() err=%v", err)
	}

	if _, err := os.Stat(filepath.Join(final, "data", "suite.json")); err != nil {
		t.Fatalf("published content missing: %v", err)
	}
	if _, err := os.Stat(staging); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staging dir still present after publish")
	}
}

func TestPublish_IdempotentWithIdenticalContent(t *testing.T) {
	layout := newTestLayout(t)
	final := layout.ReportDir("myproj", "r1")

	for i := 0; i < 2; i++ {
		staging, err := layout.Stage("myproj", "r1")
		if err != nil {
			t.Fatalf("Stage() err=%v", err)
		}
		writeFile(t, filepath.Join(staging, "index.html"), "same content")
		if err := layout.Publish(staging, final); err != nil {
			t.Fatalf("Publish() attempt %d err=%v", i+1, err)
		}
	}

	got, err := os.ReadFile(filepath.Join(final, "index.html"))
	if err != nil {
		t.Fatalf("read published file: %v", err)
	}
	if string(got) != "same content" {
		t.Fatalf("published content=%q, want %q", got, "same content")
	}
}

func TestPublish_RejectsDifferentContent(t *testing.T) {
	layout := newTestLayout(t)
	final := layout.ReportDir("myproj", "r1")

	staging, err := layout.Stage("myproj", "r1")
	if err != nil {
		t.Fatalf("Stage() err=%v", err)
	}
	writeFile(t, filepath.Join(staging, "index.html"), "first")
	if err := layout.Publish(staging, final); err != nil {
		t.Fatalf("Publish() err=%v", err)
	}

	staging2, err := layout.Stage("myproj", "r1")
	if err != nil {
		t.Fatalf("Stage() err=%v", err)
	}
	writeFile(t, filepath.Join(staging2, "index.html"), "second")

	err = layout.Publish(staging2, final)
	if err == nil {
		t.Fatalf("Publish() expected error for conflicting content")
	}
	var storageErr *Error
	if !errors.As(err, &storageErr) {
		t.Fatalf("Publish() err=%T, want *storage.Error", err)
	}

	got, readErr := os.ReadFile(filepath.Join(final, "index.html"))
	if readErr != nil {
		t.Fatalf("read published file: %v", readErr)
	}
	if string(got) != "first" {
		t.Fatalf("published content overwritten: %q", got)
	}
}

func TestCopyTreeDurable_FallbackPath(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "index.html"), "copy me")
	writeFile(t, filepath.Join(src, "nested", "file.txt"), "nested")

	if err := copyTreeDurable(src, dst); err != nil {
		t.Fatalf("copyTreeDurable() err=%v", err)
	}
	got, err := os.ReadFile(filepath.Join(dst, "nested", "file.txt"))
	if err != nil {
		t.Fatalf("read copied file: %v", err)
	}
	if string(got) != "nested" {
		t.Fatalf("copied content=%q, want nested", got)
	}
}

func TestWriteCheck(t *testing.T) {
	layout := newTestLayout(t)
	if err := layout.WriteCheck(); err != nil {
		t.Fatalf("WriteCheck() err=%v", err)
	}
}
