// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package provision

import (
	"fmt"

	"github.com/toeirei/keysync/internal/hostfs"
	"github.com/toeirei/keysync/internal/sshkey"
)

// Strategy names accepted in configuration and on the command line.
const (
	StrategyAppendOnce   = "append-once"
	StrategyAlwaysAppend = "always-append"
)

// KeyStrategy decides which manifest keys get appended to an
// authorized_keys file. Keys are always appended, never rewritten.
type KeyStrategy interface {
	Name() string
	// Write appends keys to path and returns how many lines were written.
	Write(fsys hostfs.FS, path string, keys []string) (int, error)
}

// AlwaysAppendStrategy appends every key on every call. Running it twice
// with the same keys leaves each key in the file twice.
type AlwaysAppendStrategy struct{}

func (AlwaysAppendStrategy) Name() string { return StrategyAlwaysAppend }

func (AlwaysAppendStrategy) Write(fsys hostfs.FS, path string, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if err := fsys.AppendLines(path, keys); err != nil {
		return 0, fmt.Errorf("append keys to %s: %w", path, err)
	}
	return len(keys), nil
}

// AppendOnceStrategy appends only keys whose line is not already present in
// the file. Keys repeated within the manifest list are written once.
type AppendOnceStrategy struct{}

func (AppendOnceStrategy) Name() string { return StrategyAppendOnce }

func (AppendOnceStrategy) Write(fsys hostfs.FS, path string, keys []string) (int, error) {
	present := map[string]bool{}
	exists, err := fsys.Exists(path)
	if err != nil {
		return 0, err
	}
	if exists {
		lines, err := fsys.ReadLines(path)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		for _, l := range lines {
			present[sshkey.Normalize(l)] = true
		}
	}

	var missing []string
	for _, k := range keys {
		n := sshkey.Normalize(k)
		if present[n] {
			continue
		}
		present[n] = true
		missing = append(missing, k)
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := fsys.AppendLines(path, missing); err != nil {
		return 0, fmt.Errorf("append keys to %s: %w", path, err)
	}
	return len(missing), nil
}

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string) (KeyStrategy, error) {
	switch name {
	case StrategyAppendOnce, "":
		return AppendOnceStrategy{}, nil
	case StrategyAlwaysAppend:
		return AlwaysAppendStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown key strategy %q (want %s or %s)", name, StrategyAppendOnce, StrategyAlwaysAppend)
}
