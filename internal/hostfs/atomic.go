// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package hostfs

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/toeirei/keysync/internal/logging"
)

// WriteFileAtomic replaces path with data via a temp file and rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".keysync-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		// A bind-mounted manifest (the usual /config/users.yaml in a
		// container) cannot be replaced by rename.
		if errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EXDEV) {
			logging.Warnf("rename onto %s failed (%v); rewriting in place", path, err)
			return os.WriteFile(path, data, perm)
		}
		return err
	}
	return nil
}
