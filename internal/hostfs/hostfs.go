// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package hostfs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"
)

// FS is the set of filesystem operations used while provisioning a user.
type FS interface {
	Exists(path string) (bool, error)
	Mkdir(path string, perm os.FileMode) error
	Chown(path, owner, group string) error
	Chmod(path string, perm os.FileMode) error
	Touch(path string) error
	AppendLines(path string, lines []string) error
	ReadLines(path string) ([]string, error)
}

// IDResolver maps account and group names to numeric ids. An empty group
// means the owner's primary group.
type IDResolver interface {
	IDs(owner, group string) (uid, gid int, err error)
}

// NameResolver resolves names through the system account database.
type NameResolver struct{}

func (NameResolver) IDs(owner, group string) (int, int, error) {
	u, err := user.Lookup(owner)
	if err != nil {
		return 0, 0, fmt.Errorf("lookup user %s: %w", owner, err)
	}
	gidStr := u.Gid
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return 0, 0, fmt.Errorf("lookup group %s: %w", group, err)
		}
		gidStr = g.Gid
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("uid of %s: %w", owner, err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return 0, 0, fmt.Errorf("gid of %s: %w", owner, err)
	}
	return uid, gid, nil
}

// OS implements FS on the local filesystem.
type OS struct {
	// Resolver is used by Chown. Nil means NameResolver.
	Resolver IDResolver
}

// Exists reports whether path exists. Errors other than "not exist" are
// returned so permission problems are not mistaken for absence.
func (o OS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Mkdir creates a single directory and applies perm regardless of umask.
func (o OS) Mkdir(path string, perm os.FileMode) error {
	if err := os.Mkdir(path, perm); err != nil {
		return err
	}
	return os.Chmod(path, perm)
}

func (o OS) Chown(path, owner, group string) error {
	r := o.Resolver
	if r == nil {
		r = NameResolver{}
	}
	uid, gid, err := r.IDs(owner, group)
	if err != nil {
		return err
	}
	return os.Chown(path, uid, gid)
}

func (o OS) Chmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}

// Touch creates path if missing and bumps its modification time.
func (o OS) Touch(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	now := time.Now()
	return os.Chtimes(path, now, now)
}

// AppendLines appends each line to path, creating it if needed. A line gets a
// trailing newline unless it already ends in one.
func (o OS) AppendLines(path string, lines []string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(Terminate(l)); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadLines returns the lines of path with their terminators kept, so joining
// the result reproduces the file byte for byte.
func (o OS) ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return SplitLines(f)
}

// SplitLines reads r into lines keeping each "\n". The last line has no
// terminator when the input does not end with one.
func SplitLines(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	lines := []string{}
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Terminate appends "\n" to line unless it already ends with one.
func Terminate(line string) string {
	if strings.HasSuffix(line, "\n") {
		return line
	}
	return line + "\n"
}
