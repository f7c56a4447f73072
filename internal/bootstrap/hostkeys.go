// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package bootstrap

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// HostKey is one sshd host key file.
type HostKey struct {
	Type string
	File string
}

// HostKeys are the keys sshd loads by default.
var HostKeys = []HostKey{
	{Type: "rsa", File: "ssh_host_rsa_key"},
	{Type: "ecdsa", File: "ssh_host_ecdsa_key"},
	{Type: "ed25519", File: "ssh_host_ed25519_key"},
}

// rsaBits matches the ssh-keygen default.
var rsaBits = 3072

// HostKeysPresent reports whether every host key exists in dir.
func HostKeysPresent(dir string) (bool, error) {
	for _, k := range HostKeys {
		_, err := os.Stat(filepath.Join(dir, k.File))
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func newSigner(keyType string) (crypto.PrivateKey, crypto.PublicKey, error) {
	switch keyType {
	case "rsa":
		k, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, nil, err
		}
		return k, &k.PublicKey, nil
	case "ecdsa":
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return k, &k.PublicKey, nil
	case "ed25519":
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return priv, pub, nil
	}
	return nil, nil, fmt.Errorf("unsupported host key type %q", keyType)
}

// GenerateHostKey writes an OpenSSH private key to path (0600) and its
// public half to path.pub (0644), the layout ssh-keygen produces.
func GenerateHostKey(keyType, path, comment string) error {
	priv, pub, err := newSigner(keyType)
	if err != nil {
		return err
	}
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return fmt.Errorf("failed to marshal %s host key: %w", keyType, err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return fmt.Errorf("failed to derive %s public key: %w", keyType, err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return err
	}
	line := ssh.MarshalAuthorizedKey(sshPub)
	if comment != "" {
		line = append(line[:len(line)-1], []byte(" "+comment+"\n")...)
	}
	return os.WriteFile(path+".pub", line, 0o644)
}

// GenerateMissingHostKeys creates each host key absent from dir and returns
// the types it generated.
func GenerateMissingHostKeys(dir string) ([]string, error) {
	host, _ := os.Hostname()
	comment := "root@" + host
	var generated []string
	for _, k := range HostKeys {
		path := filepath.Join(dir, k.File)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return generated, err
		}
		if err := GenerateHostKey(k.Type, path, comment); err != nil {
			return generated, fmt.Errorf("generate %s host key: %w", k.Type, err)
		}
		generated = append(generated, k.Type)
	}
	return generated, nil
}
