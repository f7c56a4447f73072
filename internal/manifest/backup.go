// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package manifest

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
)

// BackupSuffix ends every backup file name.
const BackupSuffix = ".bak.zst"

// Backup writes a zstd-compressed copy of the file at path next to it and
// returns the backup's name.
func Backup(path string, now time.Time) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open manifest for backup: %w", err)
	}
	defer in.Close()

	name := fmt.Sprintf("%s.%s%s", path, now.UTC().Format("20060102T150405Z"), BackupSuffix)
	out, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	enc, err := zstd.NewWriter(out)
	if err != nil {
		_ = out.Close()
		return "", fmt.Errorf("could not create zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		_ = out.Close()
		return "", fmt.Errorf("compress backup: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = out.Close()
		return "", err
	}
	return name, out.Close()
}

// ReadBackup decompresses a backup written by Backup.
func ReadBackup(name string) ([]byte, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
