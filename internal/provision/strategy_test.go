// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package provision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/toeirei/keysync/internal/hostfs"
)

func TestStrategyByName(t *testing.T) {
	cases := map[string]string{
		"":                   StrategyAppendOnce,
		StrategyAppendOnce:   StrategyAppendOnce,
		StrategyAlwaysAppend: StrategyAlwaysAppend,
	}
	for in, want := range cases {
		s, err := StrategyByName(in)
		if err != nil {
			t.Fatalf("StrategyByName(%q): %v", in, err)
		}
		if s.Name() != want {
			t.Fatalf("StrategyByName(%q) = %s, want %s", in, s.Name(), want)
		}
	}
	if _, err := StrategyByName("overwrite"); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestAppendOnce_SkipsPresentAndRepeatedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authorized_keys")
	// a line read back from disk keeps its newline; it must still match
	if err := os.WriteFile(path, []byte(keyA+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err := AppendOnceStrategy{}.Write(hostfs.OS{}, path, []string{keyA + "\n", keyB, keyB})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one new line, got %d", n)
	}
	b, _ := os.ReadFile(path)
	if want := keyA + "\n" + keyB + "\n"; string(b) != want {
		t.Fatalf("file = %q, want %q", b, want)
	}
}

func TestAppendOnce_MissingFileIsCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authorized_keys")
	n, err := AppendOnceStrategy{}.Write(hostfs.OS{}, path, []string{keyA})
	if err != nil || n != 1 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
}

func TestAlwaysAppend_NoKeysTouchesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authorized_keys")
	n, err := AlwaysAppendStrategy{}.Write(hostfs.OS{}, path, nil)
	if err != nil || n != 0 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should not be created for an empty key list")
	}
}
