// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package sshkey

import "github.com/toeirei/keysync/internal/logging"

// Validate checks every key line of a user and logs a warning for the ones
// sshd would not accept. It never fails: the manifest remains the source of
// truth and keys are written as declared. It returns the number of problems.
func Validate(username string, keys []string) int {
	problems := 0
	for i, k := range keys {
		if IsComment(k) {
			continue
		}
		if _, _, _, err := Parse(k); err != nil {
			logging.Warnf("user %s: key #%d is malformed: %v", username, i+1, err)
			problems++
			continue
		}
		fp, err := Fingerprint(k)
		if err != nil {
			logging.Warnf("user %s: key #%d cannot be decoded: %v", username, i+1, err)
			problems++
			continue
		}
		logging.Debugf("user %s: key #%d %s", username, i+1, fp)
	}
	return problems
}
