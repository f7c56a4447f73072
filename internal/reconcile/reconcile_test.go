// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package reconcile

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/keysync/internal/hostfs"
	"github.com/toeirei/keysync/internal/manifest"
	"github.com/toeirei/keysync/internal/model"
)

func writeKeys(t *testing.T, root, username, content string) {
	t.Helper()
	dir := filepath.Join(root, username, ".ssh")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "authorized_keys"), []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestReconcile_KeepsLineTerminators(t *testing.T) {
	root := t.TempDir()
	writeKeys(t, root, "alice", "ssh-rsa AAA...\n")
	r := New(hostfs.OS{}, root)

	in := []model.UserRecord{{Username: "alice", UserID: 1, GroupID: 1, SSHKeys: []string{"stale"}}}
	got, err := r.Reconcile(in)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !reflect.DeepEqual(got[0].SSHKeys, []string{"ssh-rsa AAA...\n"}) {
		t.Fatalf("SSHKeys = %q", got[0].SSHKeys)
	}
	if in[0].SSHKeys[0] != "stale" {
		t.Fatalf("input records must not be modified")
	}
}

func TestReconcile_MissingFileGivesEmptyList(t *testing.T) {
	r := New(hostfs.OS{}, t.TempDir())
	got, err := r.Reconcile([]model.UserRecord{{Username: "ghost", SSHKeys: []string{"k"}}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got[0].SSHKeys == nil || len(got[0].SSHKeys) != 0 {
		t.Fatalf("expected an empty key list, got %#v", got[0].SSHKeys)
	}
}

func TestReconcile_VerbatimLines(t *testing.T) {
	root := t.TempDir()
	writeKeys(t, root, "bob", "# laptop\nssh-ed25519 AAAA bob@a\n\nssh-ed25519 BBBB bob@b")
	got, err := New(hostfs.OS{}, root).Reconcile([]model.UserRecord{{Username: "bob"}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{"# laptop\n", "ssh-ed25519 AAAA bob@a\n", "\n", "ssh-ed25519 BBBB bob@b"}
	if !reflect.DeepEqual(got[0].SSHKeys, want) {
		t.Fatalf("SSHKeys = %q, want %q", got[0].SSHKeys, want)
	}
}

type brokenFS struct{}

func (brokenFS) Exists(string) (bool, error)        { return true, nil }
func (brokenFS) ReadLines(string) ([]string, error) { return nil, errors.New("EIO") }

func TestReconcile_ReadErrorIsFatal(t *testing.T) {
	if _, err := New(brokenFS{}, "/home").Reconcile([]model.UserRecord{{Username: "a"}}); err == nil {
		t.Fatalf("expected read error to propagate")
	}
}

func TestSyncManifest(t *testing.T) {
	dir := t.TempDir()
	homes := filepath.Join(dir, "home")
	path := filepath.Join(dir, "users.yaml")
	doc := `users:
  - username: alice
    userid: 1500
    groupid: 1500
    sshkeys:
      - ssh-ed25519 OLD alice
  - username: alice
    userid: 1600
    groupid: 1600
    sshkeys: []
  - username: bob
    userid: 1501
    groupid: 1501
    sshkeys:
      - ssh-ed25519 GONE bob
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	writeKeys(t, homes, "alice", "ssh-ed25519 NEW1 alice\nssh-ed25519 NEW2 alice\n")

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m, rejected, err := SyncManifest(path, New(hostfs.OS{}, homes), SyncOptions{Backup: true, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("SyncManifest: %v", err)
	}
	if len(m.Users) != 2 {
		t.Fatalf("duplicate record should be dropped, got %d users", len(m.Users))
	}
	if len(rejected) != 1 || rejected[0].Record.UserID != 1600 {
		t.Fatalf("expected the uid 1600 record to be reported, got %v", rejected)
	}

	reloaded, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if want := []string{"ssh-ed25519 NEW1 alice", "ssh-ed25519 NEW2 alice"}; !reflect.DeepEqual(reloaded.Users[0].SSHKeys, want) {
		t.Fatalf("alice keys = %q, want %q", reloaded.Users[0].SSHKeys, want)
	}
	if len(reloaded.Users[1].SSHKeys) != 0 {
		t.Fatalf("bob has no authorized_keys, got %q", reloaded.Users[1].SSHKeys)
	}

	backup, err := manifest.ReadBackup(path + ".20260102T030405Z" + manifest.BackupSuffix)
	if err != nil {
		t.Fatalf("ReadBackup: %v", err)
	}
	if !strings.Contains(string(backup), "OLD alice") || !strings.Contains(string(backup), "1600") {
		t.Fatalf("backup should hold the previous manifest, rejected record included")
	}
}
