// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bootstrap prepares a fresh host or container before users are
// provisioned: sshd host keys and configuration, a default manifest, and a
// fail2ban configuration. Every check is a plain existence test; present
// files are never inspected or replaced.
package bootstrap

import (
	"fmt"
	"os"

	"github.com/toeirei/keysync/internal/hostfs"
	"github.com/toeirei/keysync/internal/logging"
)

// Paths locates the live configuration and the templates copied into place.
type Paths struct {
	SSHConfigDir   string
	SSHTemplateDir string

	ManifestPath     string
	ManifestTemplate string

	Fail2banConfigFile  string
	Fail2banConfigDir   string
	Fail2banTemplateDir string
}

// DefaultPaths are the container conventions.
func DefaultPaths() Paths {
	return Paths{
		SSHConfigDir:        "/etc/ssh",
		SSHTemplateDir:      "/defaults/ssh",
		ManifestPath:        "/config/users.yaml",
		ManifestTemplate:    "/defaults/config/users.yaml",
		Fail2banConfigFile:  "/etc/fail2ban/fail2ban.local",
		Fail2banConfigDir:   "/etc/fail2ban",
		Fail2banTemplateDir: "/defaults/fail2ban",
	}
}

// Report lists what Run changed.
type Report struct {
	CopiedSSHConfig    bool
	GeneratedHostKeys  []string
	CopiedManifest     bool
	CopiedFail2banConf bool
}

// Changed reports whether Run touched anything.
func (r Report) Changed() bool {
	return r.CopiedSSHConfig || len(r.GeneratedHostKeys) > 0 || r.CopiedManifest || r.CopiedFail2banConf
}

func exists(path string) (bool, error) {
	return hostfs.OS{}.Exists(path)
}

// Run fills in whatever is missing. A missing template is an error.
func Run(p Paths) (Report, error) {
	var rep Report

	present, err := HostKeysPresent(p.SSHConfigDir)
	if err != nil {
		return rep, err
	}
	if !present {
		if err := os.MkdirAll(p.SSHConfigDir, 0o755); err != nil {
			return rep, err
		}
		if err := hostfs.CopyTree(p.SSHConfigDir, p.SSHTemplateDir); err != nil {
			return rep, fmt.Errorf("copy default ssh config: %w", err)
		}
		rep.CopiedSSHConfig = true
		logging.Infof("Copied default SSH config.")

		rep.GeneratedHostKeys, err = GenerateMissingHostKeys(p.SSHConfigDir)
		for _, t := range rep.GeneratedHostKeys {
			logging.Infof("Generated %s SSH host key.", t)
		}
		if err != nil {
			return rep, err
		}
	}

	ok, err := exists(p.ManifestPath)
	if err != nil {
		return rep, err
	}
	if !ok {
		if err := hostfs.CopyFile(p.ManifestPath, p.ManifestTemplate); err != nil {
			return rep, fmt.Errorf("copy default manifest: %w", err)
		}
		rep.CopiedManifest = true
		logging.Infof("Created %s.", p.ManifestPath)
	}

	ok, err = exists(p.Fail2banConfigFile)
	if err != nil {
		return rep, err
	}
	if !ok {
		if err := os.MkdirAll(p.Fail2banConfigDir, 0o755); err != nil {
			return rep, err
		}
		if err := hostfs.CopyTree(p.Fail2banConfigDir, p.Fail2banTemplateDir); err != nil {
			return rep, fmt.Errorf("copy default fail2ban config: %w", err)
		}
		rep.CopiedFail2banConf = true
		logging.Infof("Created %s.", p.Fail2banConfigFile)
	}
	return rep, nil
}
