package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
)

// Publish atomically moves staged content to its final path. Semantics:
//
//   - the destination parent is created if absent;
//   - the move is a single rename, so readers never observe partial content;
//   - when the destination already exists, Publish succeeds as a no-op if its
//     content digest matches the staged content (idempotent re-publish) and
//     fails otherwise;
//   - when rename crosses a filesystem boundary (EXDEV) the content is copied
//     into a sibling temp directory with a durability barrier, renamed into
//     place, and the staging source removed afterwards.
func (l Layout) Publish(staging, final string) error {
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return &Error{Op: "publish", Path: final, Err: err}
	}

	if _, err := os.Lstat(final); err == nil {
		same, cmpErr := sameContent(staging, final)
		if cmpErr != nil {
			return &Error{Op: "publish", Path: final, Err: cmpErr}
		}
		if !same {
			return &Error{Op: "publish", Path: final, Err: fmt.Errorf("destination exists with different content")}
		}
		_ = os.RemoveAll(staging)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "publish", Path: final, Err: err}
	}

	err := os.Rename(staging, final)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return &Error{Op: "publish", Path: final, Err: err}
	}

	// Rename crossed a filesystem boundary. Copy into a temp dir next to the
	// destination so the last hop is still a same-device rename.
	tmp, mkErr := os.MkdirTemp(filepath.Dir(final), ".publish-*")
	if mkErr != nil {
		return &Error{Op: "publish", Path: final, Err: mkErr}
	}
	defer os.RemoveAll(tmp)

	if err := copyTreeDurable(staging, tmp); err != nil {
		return &Error{Op: "publish", Path: final, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		return &Error{Op: "publish", Path: final, Err: err}
	}
	if err := os.RemoveAll(staging); err != nil {
		return &Error{Op: "publish", Path: staging, Err: err}
	}
	return nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}

// copyTreeDurable copies src into dst (which must exist and be empty),
// fsyncing every file and directory before returning.
func copyTreeDurable(src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0o755)
		}
		return copyFileDurable(path, target)
	})
	if err != nil {
		return err
	}
	return syncTree(dst)
}

func copyFileDurable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func syncTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		dir, err := os.Open(path)
		if err != nil {
			return err
		}
		syncErr := dir.Sync()
		closeErr := dir.Close()
		if syncErr != nil {
			return syncErr
		}
		return closeErr
	})
}

func sameContent(a, b string) (bool, error) {
	da, err := treeDigest(a)
	if err != nil {
		return false, err
	}
	db, err := treeDigest(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

// treeDigest hashes the sorted relative paths and file contents of a
// directory tree into a single digest.
func treeDigest(root string) (string, error) {
	type entry struct {
		rel string
		dir bool
	}
	var entries []entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		entries = append(entries, entry{rel: rel, dir: d.IsDir()})
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s\x00%v\x00", e.rel, e.dir)
		if e.dir {
			continue
		}
		f, err := os.Open(filepath.Join(root, e.rel))
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			_ = f.Close()
			return "", err
		}
		_ = f.Close()
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
