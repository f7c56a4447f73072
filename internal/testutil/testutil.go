// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds fakes shared by package tests.
package testutil

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/toeirei/keysync/internal/accounts"
)

// Call is one recorded command invocation.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string { return c.Name + " " + strings.Join(c.Args, " ") }

// FakeCommander emulates id/useradd/groupadd/getent against an in-memory
// account table. useradd -m creates the home directory on the real
// filesystem so the provisioner sees it on the next run.
type FakeCommander struct {
	mu     sync.Mutex
	Users  map[string]int
	Groups map[int]string
	// Primary maps each created account to its primary gid.
	Primary map[string]int
	Calls   []Call
	// FailOn makes the named utility fail with ErrCommandFailed.
	FailOn map[string]bool
	// OnUseradd runs after useradd -m created the home directory.
	OnUseradd func(home string) error
}

// NewFakeCommander returns an empty account table.
func NewFakeCommander() *FakeCommander {
	return &FakeCommander{
		Users:   map[string]int{},
		Groups:  map[int]string{},
		Primary: map[string]int{},
		FailOn:  map[string]bool{},
	}
}

func (f *FakeCommander) Run(name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Name: name, Args: append([]string(nil), args...)})
	if f.FailOn[name] {
		return fmt.Errorf("%w: %s (exit 1): simulated", accounts.ErrCommandFailed, name)
	}
	switch name {
	case "id":
		if _, ok := f.Users[args[len(args)-1]]; ok {
			return nil
		}
		return fmt.Errorf("%w: id (exit 1)", accounts.ErrCommandFailed)
	case "useradd":
		username := args[len(args)-1]
		if _, ok := f.Users[username]; ok {
			return fmt.Errorf("%w: useradd (exit 9): user exists", accounts.ErrCommandFailed)
		}
		uid, gid, home, createHome := -1, -1, "", false
		for i := 0; i < len(args)-1; i++ {
			switch args[i] {
			case "-m":
				createHome = true
			case "-u":
				fmt.Sscanf(args[i+1], "%d", &uid)
			case "-g":
				fmt.Sscanf(args[i+1], "%d", &gid)
			case "-d":
				home = args[i+1]
			}
		}
		if createHome && home != "" {
			if err := os.MkdirAll(home, 0o755); err != nil {
				return err
			}
			if f.OnUseradd != nil {
				if err := f.OnUseradd(home); err != nil {
					return err
				}
			}
		}
		if gid < 0 {
			// user private group: gid = uid when free, like useradd
			gid = uid
			for {
				if _, taken := f.Groups[gid]; !taken {
					break
				}
				gid++
			}
			f.Groups[gid] = username
		} else if _, ok := f.Groups[gid]; !ok {
			return fmt.Errorf("%w: useradd (exit 6): group %d does not exist", accounts.ErrCommandFailed, gid)
		}
		f.Users[username] = uid
		f.Primary[username] = gid
		return nil
	case "getent":
		var gid int
		fmt.Sscanf(args[len(args)-1], "%d", &gid)
		if _, ok := f.Groups[gid]; ok {
			return nil
		}
		return fmt.Errorf("%w: getent (exit 2)", accounts.ErrCommandFailed)
	case "groupadd":
		var gid int
		fmt.Sscanf(args[1], "%d", &gid)
		f.Groups[gid] = args[2]
		return nil
	}
	return fmt.Errorf("fake commander: unexpected command %s", name)
}

// CallsTo returns the recorded invocations of the named utility.
func (f *FakeCommander) CallsTo(name string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// SelfResolver maps every owner and group to the ids of the test process so
// chown succeeds without root.
type SelfResolver struct{}

func (SelfResolver) IDs(owner, group string) (int, int, error) {
	return os.Getuid(), os.Getgid(), nil
}

// AccountResolver checks names against a FakeCommander's account table the
// way the system resolver would, then maps them to the test process's ids.
type AccountResolver struct {
	Cmd *FakeCommander
}

func (r AccountResolver) IDs(owner, group string) (int, int, error) {
	r.Cmd.mu.Lock()
	defer r.Cmd.mu.Unlock()
	if _, ok := r.Cmd.Users[owner]; !ok {
		return 0, 0, fmt.Errorf("lookup user %s: unknown user", owner)
	}
	if group != "" {
		found := false
		for _, name := range r.Cmd.Groups {
			if name == group {
				found = true
				break
			}
		}
		if !found {
			return 0, 0, fmt.Errorf("lookup group %s: unknown group", group)
		}
	}
	return os.Getuid(), os.Getgid(), nil
}
