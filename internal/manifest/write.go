// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/toeirei/keysync/internal/hostfs"
	"github.com/toeirei/keysync/internal/model"
	"github.com/toeirei/keysync/internal/sshkey"
)

const defaultPerm fs.FileMode = 0o644

// Marshal renders m. When original is non-empty its top-level keys and
// their order are kept and only users is replaced. Key lines lose their line
// terminator; the authorized_keys writer puts it back.
func Marshal(m *model.Manifest, original []byte) ([]byte, error) {
	var doc yaml.MapSlice
	if len(original) > 0 {
		if err := yaml.Unmarshal(original, &doc); err != nil {
			return nil, fmt.Errorf("parse existing manifest: %w", err)
		}
	}
	users := make([]model.UserRecord, 0, len(m.Users))
	for _, u := range m.Users {
		keys := make([]string, 0, len(u.SSHKeys))
		for _, k := range u.SSHKeys {
			keys = append(keys, sshkey.Normalize(k))
		}
		u.SSHKeys = keys
		users = append(users, u)
	}
	replaced := false
	for i := range doc {
		if k, ok := doc[i].Key.(string); ok && k == "users" {
			doc[i].Value = users
			replaced = true
		}
	}
	if !replaced {
		doc = append(doc, yaml.MapItem{Key: "users", Value: users})
	}
	return yaml.Marshal(doc)
}

// Write stores m at path, keeping unrelated top-level keys of the current
// file and its permission bits.
func Write(path string, m *model.Manifest) error {
	perm := defaultPerm
	original, err := os.ReadFile(path)
	switch {
	case err == nil:
		if st, statErr := os.Stat(path); statErr == nil {
			perm = st.Mode().Perm()
		}
	case errors.Is(err, fs.ErrNotExist):
		original = nil
	default:
		return fmt.Errorf("read manifest: %w", err)
	}

	data, err := Marshal(m, original)
	if err != nil {
		return err
	}
	if err := hostfs.WriteFileAtomic(path, data, perm); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
