// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/keysync/internal/model"
)

const sample = `# managed by keysync
motd: hello
users:
  - username: alice
    userid: 1500
    groupid: 1500
    sshkeys:
      - ssh-ed25519 AAAAC3Nz alice@a
      - ssh-ed25519 AAAAC3Nz alice@b
  - username: bob
    userid: 1501
    groupid: 1501
    shell: /bin/zsh
    sshkeys: []
`

func TestParse_Sample(t *testing.T) {
	m, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []model.UserRecord{
		{Username: "alice", UserID: 1500, GroupID: 1500, SSHKeys: []string{"ssh-ed25519 AAAAC3Nz alice@a", "ssh-ed25519 AAAAC3Nz alice@b"}},
		{Username: "bob", UserID: 1501, GroupID: 1501, SSHKeys: nil},
	}
	if len(m.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(m.Users))
	}
	if !reflect.DeepEqual(m.Users[0], want[0]) {
		t.Fatalf("users[0] = %+v", m.Users[0])
	}
	if m.Users[1].Username != "bob" || len(m.Users[1].SSHKeys) != 0 {
		t.Fatalf("users[1] = %+v", m.Users[1])
	}
}

func TestParse_MissingUsersKey(t *testing.T) {
	for _, doc := range []string{"", "other: 1\n", "users:\n"} {
		m, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("Parse(%q): %v", doc, err)
		}
		if len(m.Users) != 0 {
			t.Fatalf("Parse(%q) should give no users, got %+v", doc, m.Users)
		}
	}
}

func TestParse_SchemaErrors(t *testing.T) {
	cases := map[string]string{
		"missing username": "users:\n  - userid: 1\n    groupid: 1\n    sshkeys: []\n",
		"empty username":   "users:\n  - username: ''\n    userid: 1\n    groupid: 1\n    sshkeys: []\n",
		"missing userid":   "users:\n  - username: a\n    groupid: 1\n    sshkeys: []\n",
		"negative groupid": "users:\n  - username: a\n    userid: 1\n    groupid: -1\n    sshkeys: []\n",
		"missing sshkeys":  "users:\n  - username: a\n    userid: 1\n    groupid: 1\n",
		"path username":    "users:\n  - username: ../etc\n    userid: 1\n    groupid: 1\n    sshkeys: []\n",
		"dotdot username":  "users:\n  - username: '..'\n    userid: 1\n    groupid: 1\n    sshkeys: []\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			if !errors.Is(err, ErrInvalidManifest) {
				t.Fatalf("expected ErrInvalidManifest, got %v", err)
			}
			if !strings.Contains(err.Error(), "users[0]") {
				t.Fatalf("error should locate the record: %v", err)
			}
		})
	}
}

func TestParse_ZeroIDsAreValid(t *testing.T) {
	m, err := Parse([]byte("users:\n  - username: root\n    userid: 0\n    groupid: 0\n    sshkeys: []\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Users[0].UserID != 0 || m.Users[0].GroupID != 0 {
		t.Fatalf("unexpected ids: %+v", m.Users[0])
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("users: [\n")); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "users.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestWrite_KeepsOtherKeysAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.Users[0].SSHKeys = []string{"ssh-rsa AAAB alice@new\n"}
	m.Users[1].SSHKeys = []string{}
	if err := Write(path, m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), "motd: hello") {
		t.Fatalf("unrelated top-level keys must survive:\n%s", b)
	}
	st, _ := os.Stat(path)
	if st.Mode().Perm() != 0o640 {
		t.Fatalf("permissions changed to %v", st.Mode())
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v\n%s", err, b)
	}
	if got := again.Users[0].SSHKeys; !reflect.DeepEqual(got, []string{"ssh-rsa AAAB alice@new"}) {
		t.Fatalf("keys should be stored without line terminator: %q\n%s", got, b)
	}
	if again.Users[1].UserID != 1501 || len(again.Users[1].SSHKeys) != 0 {
		t.Fatalf("bob changed: %+v", again.Users[1])
	}
}

func TestWrite_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	m := &model.Manifest{Users: []model.UserRecord{{Username: "a", UserID: 1, GroupID: 2, SSHKeys: []string{"k"}}}}
	if err := Write(path, m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.Users, m.Users) {
		t.Fatalf("got %+v, want %+v", got.Users, m.Users)
	}
}

func TestBackup_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	now := time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
	name, err := Backup(path, now)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if want := path + ".20261017T083000Z" + BackupSuffix; name != want {
		t.Fatalf("backup name = %s, want %s", name, want)
	}
	b, err := ReadBackup(name)
	if err != nil {
		t.Fatalf("ReadBackup: %v", err)
	}
	if string(b) != sample {
		t.Fatalf("backup content mismatch")
	}
	if _, err := Backup(path, now); err == nil {
		t.Fatalf("an existing backup must not be overwritten")
	}
}
