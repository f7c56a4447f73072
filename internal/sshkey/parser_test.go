// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.
package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func genAuthorizedKey(t *testing.T, comment string) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("new public key: %v", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		line += " " + comment
	}
	return line
}

func TestParse_NormalLine(t *testing.T) {
	line := "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAQC3 test-key@example.com"
	alg, key, comment, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if alg != "ssh-rsa" {
		t.Fatalf("unexpected alg: %s", alg)
	}
	if key == "" {
		t.Fatalf("empty key data")
	}
	if comment != "test-key@example.com" {
		t.Fatalf("unexpected comment: %s", comment)
	}
}

func TestParse_WithOptions(t *testing.T) {
	line := "no-agent-forwarding,command=\"echo hi\" ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIBk comment"
	alg, _, comment, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if alg != "ssh-ed25519" || comment != "comment" {
		t.Fatalf("unexpected parse result: %s %s", alg, comment)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, _, _, err := Parse(""); err == nil {
		t.Fatalf("expected error for empty line")
	}
	if _, _, _, err := Parse("just-some-text"); err == nil {
		t.Fatalf("expected error for no key type")
	}
	if _, _, _, err := Parse("ssh-ed25519"); err == nil {
		t.Fatalf("expected error for missing key data")
	}
}

func TestFingerprint(t *testing.T) {
	line := genAuthorizedKey(t, "alice@laptop")
	fp, err := Fingerprint(line + "\n")
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if !strings.HasPrefix(fp, "SHA256:") {
		t.Fatalf("unexpected fingerprint %q", fp)
	}
	if _, err := Fingerprint("ssh-ed25519 notbase64"); err == nil {
		t.Fatalf("expected error for garbage key data")
	}
}

func TestNormalizeAndIsComment(t *testing.T) {
	if got := Normalize("ssh-rsa AAA x\r\n"); got != "ssh-rsa AAA x" {
		t.Fatalf("Normalize: %q", got)
	}
	if !IsComment("  # managed\n") || !IsComment("\n") || IsComment("ssh-rsa AAA") {
		t.Fatalf("IsComment misclassified a line")
	}
}

func TestValidate_CountsProblems(t *testing.T) {
	keys := []string{
		genAuthorizedKey(t, "ok"),
		"# a comment",
		"not a key",
		"ssh-ed25519 AAAAbroken",
	}
	if got := Validate("alice", keys); got != 2 {
		t.Fatalf("expected 2 problems, got %d", got)
	}
}
