// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the keysync command line using the Cobra library. The root
// command provisions the users of a manifest; subcommands reconcile the
// manifest with the host and run the batch key helper.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/toeirei/keysync/internal/accounts"
	"github.com/toeirei/keysync/internal/bootstrap"
	"github.com/toeirei/keysync/internal/hostfs"
	"github.com/toeirei/keysync/internal/i18n"
	"github.com/toeirei/keysync/internal/provision"
)

// env holds the host-facing dependencies so tests can swap them.
type env struct {
	fs        hostfs.FS
	accounts  provision.Accounts
	bootstrap func(bootstrap.Paths) (bootstrap.Report, error)
	now       func() time.Time
}

func hostEnv() *env {
	return &env{
		fs:        hostfs.OS{},
		accounts:  accounts.NewSystem(),
		bootstrap: bootstrap.Run,
		now:       time.Now,
	}
}

func main() {
	if err := newRootCmd(hostEnv()).Execute(); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, i18n.T("error.fatal", err))
		}
		os.Exit(1)
	}
}
