// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore stores artifacts as files in a local directory.
//
// Description:
//
//	Writes go to a temporary file in the same directory which is then
//	hard-linked into place, so an artifact either exists completely or not
//	at all, and an existing artifact is never replaced.
//
// Thread Safety: Safe for concurrent use on distinct keys.
type FSStore struct {
	dir string
}

// NewFSStore opens a directory store. The directory must exist.
func NewFSStore(dir string) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening artifact directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opening artifact directory: %s is not a directory", abs)
	}
	return &FSStore{dir: abs}, nil
}

// Path returns the file path for key.
func (s *FSStore) Path(key string) string {
	return filepath.Join(s.dir, key)
}

// Exists reports whether the artifact file exists.
func (s *FSStore) Exists(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking artifact %s: %w", key, err)
	}
}

// Write atomically creates the artifact file.
func (s *FSStore) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write canceled: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", key, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", key, err)
	}

	// Link fails if the destination exists, unlike Rename.
	if err := os.Link(tmpPath, s.Path(key)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrArtifactExists, key)
		}
		// Filesystems without hard links fall back to check-then-rename,
		// which relies on keys being owned by a single writer.
		if exists, _ := s.Exists(ctx, key); exists {
			return fmt.Errorf("%w: %s", ErrArtifactExists, key)
		}
		if err := os.Rename(tmpPath, s.Path(key)); err != nil {
			return fmt.Errorf("publishing %s: %w", key, err)
		}
	}
	return nil
}

// Location returns the directory path.
func (s *FSStore) Location() string {
	return s.dir
}

// Close is a no-op.
func (s *FSStore) Close() error {
	return nil
}
