// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package reconcile reads live authorized_keys files back into manifest
// records so keys edited on disk flow back into the YAML manifest.
package reconcile

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/toeirei/keysync/internal/dedupe"
	"github.com/toeirei/keysync/internal/logging"
	"github.com/toeirei/keysync/internal/manifest"
	"github.com/toeirei/keysync/internal/model"
)

// KeyReader is the read side of hostfs.FS.
type KeyReader interface {
	Exists(path string) (bool, error)
	ReadLines(path string) ([]string, error)
}

// Reconciler replaces each record's keys with the content of the user's
// authorized_keys file.
type Reconciler struct {
	FS       KeyReader
	HomeRoot string
}

// New returns a Reconciler looking for homes under homeRoot.
func New(fsys KeyReader, homeRoot string) *Reconciler {
	if homeRoot == "" {
		homeRoot = "/home"
	}
	return &Reconciler{FS: fsys, HomeRoot: homeRoot}
}

func (r *Reconciler) keysPath(username string) string {
	return filepath.Join(r.HomeRoot, username, ".ssh", "authorized_keys")
}

// Reconcile returns copies of users whose SSHKeys are the lines of the live
// file, terminators included. A user without the file gets an empty list.
func (r *Reconciler) Reconcile(users []model.UserRecord) ([]model.UserRecord, error) {
	out := make([]model.UserRecord, 0, len(users))
	for _, u := range users {
		path := r.keysPath(u.Username)
		exists, err := r.FS.Exists(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		keys := []string{}
		if exists {
			keys, err = r.FS.ReadLines(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
		}
		logging.Debugf("user %s: %d line(s) in %s", u.Username, len(keys), path)
		u.SSHKeys = keys
		out = append(out, u)
	}
	return out, nil
}

// SyncOptions control SyncManifest.
type SyncOptions struct {
	// Backup saves a compressed copy of the manifest before overwriting it.
	Backup bool
	Now    func() time.Time
}

// SyncManifest loads the manifest at path, drops duplicate records,
// reconciles the rest against disk and writes the result back to path.
// Rejected records are removed from the manifest for good; they are returned
// so the caller can report them, and survive only in the backup when
// opts.Backup is set.
func SyncManifest(path string, r *Reconciler, opts SyncOptions) (*model.Manifest, []model.Rejection, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, nil, err
	}
	users, rejected := dedupe.Dedupe(m.Users)
	users, err = r.Reconcile(users)
	if err != nil {
		return nil, nil, err
	}
	m.Users = users

	if opts.Backup {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		name, err := manifest.Backup(path, now())
		if err != nil {
			return nil, nil, err
		}
		logging.Infof("Saved previous manifest to %s", name)
	}
	if err := manifest.Write(path, m); err != nil {
		return nil, nil, err
	}
	if len(rejected) > 0 {
		logging.Warnf("Removed %d duplicate record(s) from %s.", len(rejected), path)
	}
	logging.Infof("Updated %s with the SSH keys of %d user(s).", path, len(users))
	return m, rejected, nil
}
