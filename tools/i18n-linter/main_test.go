// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFlattenYAML_NestedAndFlatKeys(t *testing.T) {
	m := map[string]interface{}{
		"top":      map[string]interface{}{"sub": "value"},
		"flat.key": "v",
	}
	keys := make(map[string]struct{})
	flattenYAML("", m, keys)
	for _, k := range []string{"top.sub", "flat.key"} {
		if _, ok := keys[k]; !ok {
			t.Fatalf("expected %s in keys: %v", k, keys)
		}
	}
}

func TestLint_ReportsEachProblem(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "cmd", "a.go"), `package a
func f() {
	_ = i18n.T("used.defined")
	_ = i18n.T("used.undefined", 1)
}`)
	write(t, filepath.Join(root, "cmd", "a_test.go"), `package a
func g() { _ = i18n.T("only.in.test") }`)
	write(t, filepath.Join(root, "_vendor", "b.go"), `package b
func h() { _ = i18n.T("ignored.dir") }`)
	dir := filepath.Join(root, localesDir)
	write(t, filepath.Join(dir, "en.yaml"), "used.defined: \"x\"\nnever.used: \"y\"\n")
	write(t, filepath.Join(dir, "de.yaml"), "used.defined: \"x\"\n")

	r, err := lint(root, dir)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if !reflect.DeepEqual(r.Undefined, []string{"used.undefined"}) {
		t.Fatalf("undefined = %v", r.Undefined)
	}
	if !reflect.DeepEqual(r.Orphaned, []string{"never.used"}) {
		t.Fatalf("orphaned = %v", r.Orphaned)
	}
	if !reflect.DeepEqual(r.Missing, map[string][]string{"de.yaml": {"never.used"}}) {
		t.Fatalf("missing = %v", r.Missing)
	}
	if !r.failed() {
		t.Fatalf("expected failure")
	}
}

func TestLint_RepositoryIsConsistent(t *testing.T) {
	root := filepath.Join("..", "..")
	r, err := lint(root, filepath.Join(root, localesDir))
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if r.failed() || len(r.Orphaned) > 0 {
		t.Fatalf("locale catalogue out of sync: %+v", r)
	}
}
