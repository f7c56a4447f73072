// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package provision turns accepted manifest records into system accounts with
// a populated ~/.ssh/authorized_keys.
//
// Provisioning one user walks a small state machine keyed on what already
// exists on the host:
//
//	home missing                 -> create account and home, set up .ssh, write keys
//	home present, account known  -> nothing to do
//	home present, account absent -> create account bound to the existing home
//
// The second branch never touches keys; use EnsureSSHDirs to push keys to
// existing users.
package provision

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/toeirei/keysync/internal/accounts"
	"github.com/toeirei/keysync/internal/hostfs"
	"github.com/toeirei/keysync/internal/logging"
	"github.com/toeirei/keysync/internal/model"
	"github.com/toeirei/keysync/internal/security"
	"github.com/toeirei/keysync/internal/sshkey"
)

const (
	sshDirPerm         os.FileMode = 0o700
	authorizedKeysPerm os.FileMode = 0o600
)

// Accounts is the subset of the account database the provisioner needs.
type Accounts interface {
	Exists(username string) (bool, error)
	Create(req accounts.CreateRequest) error
	EnsureGroup(name string, gid int) error
}

// Outcome is the branch Provision took for a user.
type Outcome int

const (
	// OutcomeCreated: account and home were created and keys written.
	OutcomeCreated Outcome = iota
	// OutcomeAdopted: an orphaned home got a new account; keys untouched.
	OutcomeAdopted
	// OutcomeExists: account and home already present; nothing changed.
	OutcomeExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAdopted:
		return "adopted"
	case OutcomeExists:
		return "exists"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Options tune the provisioner.
type Options struct {
	// HomeRoot is the parent of every home directory, usually /home.
	HomeRoot string
	// PasswordLength is the length of the placeholder credential.
	PasswordLength int
	// ApplyGroupID makes the manifest groupid the primary group of new accounts.
	ApplyGroupID bool
	// Keys writes keys for freshly created users.
	Keys KeyStrategy
	// BatchKeys writes keys in EnsureSSHDirs.
	BatchKeys KeyStrategy
}

// Provisioner applies manifest records to the host one at a time.
type Provisioner struct {
	FS        hostfs.FS
	Accounts  Accounts
	Passwords security.PasswordGenerator
	Opts      Options
}

// New returns a Provisioner with defaults filled in for zero options.
func New(fsys hostfs.FS, acc Accounts, opts Options) *Provisioner {
	if opts.HomeRoot == "" {
		opts.HomeRoot = "/home"
	}
	if opts.PasswordLength <= 0 {
		opts.PasswordLength = security.DefaultPasswordLength
	}
	if opts.Keys == nil {
		opts.Keys = AppendOnceStrategy{}
	}
	if opts.BatchKeys == nil {
		opts.BatchKeys = AlwaysAppendStrategy{}
	}
	return &Provisioner{FS: fsys, Accounts: acc, Opts: opts}
}

// HomeDir is the conventional home of username.
func (p *Provisioner) HomeDir(username string) string {
	return filepath.Join(p.Opts.HomeRoot, username)
}

// SSHDir is username's ~/.ssh.
func (p *Provisioner) SSHDir(username string) string {
	return filepath.Join(p.HomeDir(username), ".ssh")
}

// AuthorizedKeysPath is username's ~/.ssh/authorized_keys.
func (p *Provisioner) AuthorizedKeysPath(username string) string {
	return filepath.Join(p.SSHDir(username), "authorized_keys")
}

// Provision brings one user in line with its record. It is safe to call
// repeatedly; see the package documentation for what each branch does.
func (p *Provisioner) Provision(u model.UserRecord) (Outcome, error) {
	home := p.HomeDir(u.Username)
	homeExists, err := p.FS.Exists(home)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", home, err)
	}

	if homeExists {
		known, err := p.Accounts.Exists(u.Username)
		if err != nil {
			return 0, fmt.Errorf("look up account %s: %w", u.Username, err)
		}
		if known {
			logging.Infof("User %s already exists.", u.Username)
			return OutcomeExists, nil
		}
		if err := p.createAccount(u, false); err != nil {
			return 0, err
		}
		logging.Infof("User %s created.", u.Username)
		return OutcomeAdopted, nil
	}

	if err := p.createAccount(u, true); err != nil {
		return 0, err
	}
	logging.Infof("User %s and home directory created.", u.Username)

	if _, err := p.ensureSSHDir(u.Username); err != nil {
		return 0, err
	}
	n, err := p.Opts.Keys.Write(p.FS, p.AuthorizedKeysPath(u.Username), u.SSHKeys)
	if err != nil {
		return 0, err
	}
	logging.Infof("Added %d SSH key(s) for %s.", n, u.Username)
	return OutcomeCreated, nil
}

func (p *Provisioner) createAccount(u model.UserRecord, createHome bool) error {
	pw, err := p.Passwords.Generate(p.Opts.PasswordLength)
	if err != nil {
		return err
	}
	defer pw.Zero()
	hash, err := security.DisabledPasswordHash(pw)
	if err != nil {
		return err
	}

	req := accounts.CreateRequest{
		Username:     u.Username,
		UID:          u.UserID,
		Home:         p.HomeDir(u.Username),
		CreateHome:   createHome,
		PasswordHash: hash,
	}
	if p.Opts.ApplyGroupID {
		if err := p.Accounts.EnsureGroup(u.Username, u.GroupID); err != nil {
			return err
		}
		gid := u.GroupID
		req.GID = &gid
	}
	return p.Accounts.Create(req)
}

// ownerGroup is the group given to a user's .ssh files. Without -g useradd
// creates a group named after the user. With ApplyGroupID it is the
// account's primary group, which "" selects.
func (p *Provisioner) ownerGroup(username string) string {
	if p.Opts.ApplyGroupID {
		return ""
	}
	return username
}

// ensureSSHDir creates ~/.ssh and an empty authorized_keys when ~/.ssh is
// missing. An existing ~/.ssh is left alone, whatever its content.
func (p *Provisioner) ensureSSHDir(username string) (bool, error) {
	dir := p.SSHDir(username)
	exists, err := p.FS.Exists(dir)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", dir, err)
	}
	if exists {
		return false, nil
	}
	keys := p.AuthorizedKeysPath(username)
	group := p.ownerGroup(username)
	steps := []struct {
		what string
		do   func() error
	}{
		{"mkdir " + dir, func() error { return p.FS.Mkdir(dir, sshDirPerm) }},
		{"chown " + dir, func() error { return p.FS.Chown(dir, username, group) }},
		{"chmod " + dir, func() error { return p.FS.Chmod(dir, sshDirPerm) }},
		{"touch " + keys, func() error { return p.FS.Touch(keys) }},
		{"chown " + keys, func() error { return p.FS.Chown(keys, username, group) }},
		{"chmod " + keys, func() error { return p.FS.Chmod(keys, authorizedKeysPerm) }},
	}
	for _, s := range steps {
		if err := s.do(); err != nil {
			return false, fmt.Errorf("%s: %w", s.what, err)
		}
	}
	logging.Infof("Created .ssh directory for %s.", username)
	return true, nil
}

// Summary counts the outcomes of a ProvisionAll run.
type Summary struct {
	Created int
	Adopted int
	Existed int
}

// ProvisionAll provisions users in order and stops at the first failure.
// Users after the failing one are not attempted.
func (p *Provisioner) ProvisionAll(users []model.UserRecord) (Summary, error) {
	var s Summary
	for _, u := range users {
		sshkey.Validate(u.Username, u.SSHKeys)
		o, err := p.Provision(u)
		if err != nil {
			return s, fmt.Errorf("provision %s: %w", u.Username, err)
		}
		switch o {
		case OutcomeCreated:
			s.Created++
		case OutcomeAdopted:
			s.Adopted++
		case OutcomeExists:
			s.Existed++
		}
	}
	return s, nil
}

// EnsureSSHDirs creates ~/.ssh for every user that lacks one and writes the
// user's keys with Opts.BatchKeys. With the default AlwaysAppendStrategy a
// rerun appends the same keys again.
func (p *Provisioner) EnsureSSHDirs(users []model.UserRecord) error {
	for _, u := range users {
		if _, err := p.ensureSSHDir(u.Username); err != nil {
			return fmt.Errorf("ssh dir for %s: %w", u.Username, err)
		}
		n, err := p.Opts.BatchKeys.Write(p.FS, p.AuthorizedKeysPath(u.Username), u.SSHKeys)
		if err != nil {
			return err
		}
		logging.Infof("Added %d SSH key(s) for %s.", n, u.Username)
	}
	return nil
}
