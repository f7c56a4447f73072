// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the data types shared by the manifest loader, the
// deduplicator, the provisioner and the reconciler.
package model

import "fmt"

// UserRecord is one desired account as declared in the manifest.
// SSHKeys keeps manifest order; it is written to disk in that order.
type UserRecord struct {
	Username string   `yaml:"username" validate:"required"`
	UserID   int      `yaml:"userid" validate:"min=0"`
	GroupID  int      `yaml:"groupid" validate:"min=0"`
	SSHKeys  []string `yaml:"sshkeys"`
}

// String returns a short human readable identifier for logs.
func (u UserRecord) String() string {
	return fmt.Sprintf("%s (uid %d, gid %d)", u.Username, u.UserID, u.GroupID)
}

// Manifest is the durable declarative store. Only the users key is recognized.
type Manifest struct {
	Users []UserRecord `yaml:"users"`
}

// Rejection describes a record dropped by the deduplicator.
type Rejection struct {
	Record UserRecord
	// Fields lists which projections collided with an earlier record
	// ("username", "userid", "groupid", "sshkeys").
	Fields []string
}

func (r Rejection) String() string {
	return fmt.Sprintf("Duplicate found for user: %s (username: %s, userid: %d, groupid: %d)",
		r.Record.Username, r.Record.Username, r.Record.UserID, r.Record.GroupID)
}
