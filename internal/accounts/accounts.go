// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package accounts drives the system account database through the shadow
// utilities (id, useradd, groupadd, getent).
package accounts

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/toeirei/keysync/internal/security"
)

// ErrCommandFailed wraps a non-zero exit of an account utility.
var ErrCommandFailed = errors.New("command failed")

// Commander runs a utility to completion.
type Commander interface {
	Run(name string, args ...string) error
}

// ExecCommander runs utilities with os/exec. It blocks until the process exits.
type ExecCommander struct{}

func (ExecCommander) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("%s: %w", name, err)
	}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		return fmt.Errorf("%w: %s (exit %d): %s", ErrCommandFailed, name, exitErr.ExitCode(), s)
	}
	return fmt.Errorf("%w: %s (exit %d)", ErrCommandFailed, name, exitErr.ExitCode())
}

// CreateRequest describes a new system account.
type CreateRequest struct {
	Username string
	UID      int
	// GID, when set, becomes the primary group (`useradd -g`).
	GID *int
	// Home is always recorded as the account's home directory. useradd
	// creates it only when CreateHome is true.
	Home         string
	CreateHome   bool
	PasswordHash security.Secret
}

// System is the account database of the local host.
type System struct {
	Cmd Commander
}

// NewSystem returns a System backed by ExecCommander.
func NewSystem() *System {
	return &System{Cmd: ExecCommander{}}
}

// Exists reports whether an account named username is known to the system.
func (s *System) Exists(username string) (bool, error) {
	err := s.Cmd.Run("id", "-u", username)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrCommandFailed) {
		return false, nil
	}
	return false, err
}

// Create adds the account. The password hash is passed to useradd as is.
func (s *System) Create(req CreateRequest) error {
	var args []string
	if req.CreateHome {
		args = append(args, "-m")
	}
	args = append(args, "-d", req.Home, "-u", strconv.Itoa(req.UID))
	if req.GID != nil {
		args = append(args, "-g", strconv.Itoa(*req.GID))
	}
	args = append(args, "-p", string(req.PasswordHash), req.Username)
	if err := s.Cmd.Run("useradd", args...); err != nil {
		return fmt.Errorf("create account %s: %w", req.Username, err)
	}
	return nil
}

// EnsureGroup creates group name with gid unless some group already owns gid.
func (s *System) EnsureGroup(name string, gid int) error {
	id := strconv.Itoa(gid)
	err := s.Cmd.Run("getent", "group", id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCommandFailed) {
		return err
	}
	if err := s.Cmd.Run("groupadd", "-g", id, name); err != nil {
		return fmt.Errorf("create group %s: %w", name, err)
	}
	return nil
}
