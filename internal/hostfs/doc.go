// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package hostfs wraps the filesystem primitives the provisioner and the
// reconciler depend on: existence checks, directory and file creation,
// ownership and permission changes, and line oriented reads and appends of
// authorized_keys files.
//
// Every operation either succeeds or returns the underlying OS error; callers
// treat failures as fatal. Nothing here locks: keysync assumes it is the only
// writer of the files it touches during a run.
package hostfs
