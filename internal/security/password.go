// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt" // registers crypt.SHA512
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultPasswordLength matches the length used for placeholder credentials.
const DefaultPasswordLength = 128

// PasswordGenerator produces unguessable placeholder credentials. They only
// satisfy account creation tooling; nobody ever logs in with them.
type PasswordGenerator struct {
	// Rand is the entropy source. Nil means crypto/rand.Reader.
	Rand io.Reader
}

// Generate returns a random alphanumeric secret of the given length.
func (g PasswordGenerator) Generate(length int) (Secret, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid password length %d", length)
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make(Secret, length)
	for i := range out {
		n, err := rand.Int(src, max)
		if err != nil {
			return nil, fmt.Errorf("read random: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return out, nil
}

// HashPassword returns a sha512-crypt string suitable for `useradd -p`.
func HashPassword(pw Secret) (Secret, error) {
	var hashed string
	err := pw.Use(func(b []byte) error {
		h, err := crypt.SHA512.New().Generate(b, nil)
		hashed = h
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return Secret(hashed), nil
}

// DisabledPrefix starts a crypt string that no password can match. Unlike
// "!" it does not lock the account, so sshd still accepts public keys.
const DisabledPrefix = "*"

// DisabledPasswordHash hashes pw and prefixes it with DisabledPrefix. The
// result satisfies `useradd -p` while leaving password login impossible, and
// the raw placeholder never appears on a command line.
func DisabledPasswordHash(pw Secret) (Secret, error) {
	h, err := HashPassword(pw)
	if err != nil {
		return nil, err
	}
	defer h.Zero()
	out := make(Secret, 0, len(DisabledPrefix)+len(h))
	out = append(out, DisabledPrefix...)
	return append(out, h...), nil
}
