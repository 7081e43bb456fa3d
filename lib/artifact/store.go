// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Outcome classifies what Finalize did with a capture file.
type Outcome int

const (
	// Stored: the content was new and now lives in the store.
	Stored Outcome = iota
	// Duplicate: identical content was already stored; the capture
	// file was deleted.
	Duplicate
	// Missing: the capture file did not exist (already finalized, or
	// never written).
	Missing
	// Discarded: the capture file was empty and was deleted.
	Discarded
	// Failed: a filesystem error prevented finalization. The error was
	// logged; teardown continues.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Duplicate:
		return "duplicate"
	case Missing:
		return "missing"
	case Discarded:
		return "discarded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result reports the effect of one Finalize call.
type Result struct {
	Outcome Outcome
	// Digest is the lowercase hex SHA-256 of the content, set for
	// Stored and Duplicate outcomes.
	Digest string
	// Path is the stored file's location, set for Stored outcomes.
	Path string
}

// Store is a content-addressed artifact directory shared by every
// session. It holds no locks: concurrent Finalize calls are safe
// because the final move is an atomic no-replace rename and a race
// loser deletes its own capture file.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore opens the artifact directory, creating it if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns where content with the given digest is (or would be)
// stored.
func (s *Store) Path(digest string) string {
	return filepath.Join(s.dir, digest)
}

// Finalize moves the capture file at tempPath into the store under its
// content digest. label names the capture's origin ("stdin", or the
// target of a shell redirect) in the stored event. Finalize never
// returns an error: failures are logged and surface as the Failed
// outcome so the enclosing teardown always completes.
func (s *Store) Finalize(tempPath, label string) Result {
	info, err := os.Stat(tempPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Outcome: Missing}
		}
		s.logger.Warn("artifact stat failed", "path", tempPath, "error", err)
		return Result{Outcome: Failed}
	}
	if info.Size() == 0 {
		if err := os.Remove(tempPath); err != nil {
			s.logger.Warn("removing empty capture failed", "path", tempPath, "error", err)
			return Result{Outcome: Failed}
		}
		return Result{Outcome: Discarded}
	}

	sum, err := HashFile(tempPath)
	if err != nil {
		s.logger.Warn("hashing capture failed", "path", tempPath, "error", err)
		return Result{Outcome: Failed}
	}
	digest := FormatDigest(sum)
	finalPath := filepath.Join(s.dir, digest)

	if _, err := os.Stat(finalPath); err == nil {
		s.discardDuplicate(tempPath, digest)
		return Result{Outcome: Duplicate, Digest: digest}
	}

	switch err := renameNoReplace(tempPath, finalPath); {
	case err == nil:
	case errors.Is(err, os.ErrExist):
		// Lost a finalize race to identical content.
		s.discardDuplicate(tempPath, digest)
		return Result{Outcome: Duplicate, Digest: digest}
	default:
		s.logger.Warn("storing artifact failed", "path", tempPath, "digest", digest, "error", err)
		return Result{Outcome: Failed, Digest: digest}
	}

	s.logger.Info("artifact stored", "digest", digest, "label", label, "path", finalPath)
	return Result{Outcome: Stored, Digest: digest, Path: finalPath}
}

// discardDuplicate deletes a capture whose content is already stored.
func (s *Store) discardDuplicate(tempPath, digest string) {
	if err := os.Remove(tempPath); err != nil {
		s.logger.Warn("removing duplicate capture failed", "path", tempPath, "error", err)
	}
	s.logger.Info("duplicate artifact not stored", "digest", digest)
}

// renameNoReplace renames oldPath to newPath, failing with os.ErrExist
// when newPath already exists. Filesystems without RENAME_NOREPLACE
// support fall back to a plain rename.
func renameNoReplace(oldPath, newPath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return os.ErrExist
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS):
		return os.Rename(oldPath, newPath)
	default:
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: err}
	}
}
