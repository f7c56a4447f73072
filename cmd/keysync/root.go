// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toeirei/keysync/buildvars"
	"github.com/toeirei/keysync/internal/bootstrap"
	"github.com/toeirei/keysync/internal/config"
	"github.com/toeirei/keysync/internal/dedupe"
	"github.com/toeirei/keysync/internal/i18n"
	"github.com/toeirei/keysync/internal/logging"
	"github.com/toeirei/keysync/internal/manifest"
	"github.com/toeirei/keysync/internal/model"
	"github.com/toeirei/keysync/internal/provision"
	"github.com/toeirei/keysync/internal/reconcile"
)

// errUsage is returned after the usage text was printed.
var errUsage = errors.New("usage")

// app is the state shared by the commands of one invocation.
type app struct {
	env     *env
	cfg     config.Config
	cfgFile string
	verbose bool
}

// annotate binds flag name of fs to a config key.
func annotate(cmd *cobra.Command, name, key string) {
	_ = cmd.Flags().SetAnnotation(name, config.KeyAnnotation, []string{key})
}

// newRootCmd creates the keysync command tree. Each call returns fresh
// commands so tests can run them in isolation.
func newRootCmd(e *env) *cobra.Command {
	a := &app{env: e}
	var skipBootstrap bool

	cmd := &cobra.Command{
		Use:           "keysync [flags] <path_to_yaml_file>",
		Short:         i18n.T("cli.short"),
		Long:          i18n.T("cli.long"),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.usage"))
				return errUsage
			}
			if !skipBootstrap {
				if err := a.bootstrap(); err != nil {
					return err
				}
			}
			return a.provision(cmd, args[0])
		},
	}
	cmd.Version = buildvars.VersionOrDefault("dev")

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", i18n.T("cli.flag.config"))
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, i18n.T("cli.flag.verbose"))
	cmd.PersistentFlags().String("lang", "", `Language ("en", "de")`)
	cmd.PersistentFlags().String("home-root", "", "Parent directory of user homes")
	_ = cmd.PersistentFlags().SetAnnotation("lang", config.KeyAnnotation, []string{"language"})
	_ = cmd.PersistentFlags().SetAnnotation("home-root", config.KeyAnnotation, []string{"home_root"})

	cmd.Flags().BoolVar(&skipBootstrap, "skip-bootstrap", false, i18n.T("cli.flag.skip_bootstrap"))
	cmd.Flags().Bool("apply-group-id", false, "Use the manifest groupid as primary group of new accounts")
	annotate(cmd, "apply-group-id", "accounts.apply_group_id")

	cmd.AddCommand(newReconcileCmd(a), newEnsureSSHCmd(a), newVersionCmd())
	return cmd
}

// setup loads the configuration and applies logging and language settings.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd, &a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logging.SetLevel(cfg.Log.Level)
	if a.verbose {
		logging.SetLevel("debug")
	}
	i18n.Init(cfg.Language)
	logging.Debugf("config: home_root=%s manifest=%s", cfg.HomeRoot, cfg.Manifest.DefaultPath)
	return nil
}

func (a *app) bootstrapPaths() bootstrap.Paths {
	c := a.cfg
	return bootstrap.Paths{
		SSHConfigDir:        c.SSH.ConfigDir,
		SSHTemplateDir:      c.SSH.TemplateDir,
		ManifestPath:        c.Manifest.DefaultPath,
		ManifestTemplate:    c.Manifest.TemplatePath,
		Fail2banConfigFile:  c.Fail2ban.ConfigFile,
		Fail2banConfigDir:   c.Fail2ban.ConfigDir,
		Fail2banTemplateDir: c.Fail2ban.TemplateDir,
	}
}

func (a *app) bootstrap() error {
	rep, err := a.env.bootstrap(a.bootstrapPaths())
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if !rep.Changed() {
		logging.Debugf("bootstrap: nothing to do")
	}
	return nil
}

func (a *app) provisioner() (*provision.Provisioner, error) {
	keys, err := provision.StrategyByName(a.cfg.Keys.Strategy)
	if err != nil {
		return nil, err
	}
	batch, err := provision.StrategyByName(a.cfg.Keys.BatchStrategy)
	if err != nil {
		return nil, err
	}
	return provision.New(a.env.fs, a.env.accounts, provision.Options{
		HomeRoot:       a.cfg.HomeRoot,
		PasswordLength: a.cfg.Password.Length,
		ApplyGroupID:   a.cfg.Accounts.ApplyGroupID,
		Keys:           keys,
		BatchKeys:      batch,
	}), nil
}

// loadUnique reads the manifest at path and drops duplicate records.
func (a *app) loadUnique(cmd *cobra.Command, path string) ([]model.UserRecord, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	users, rejected := dedupe.Dedupe(m.Users)
	if len(rejected) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), i18n.T("summary.rejected", len(rejected)))
	}
	return users, nil
}

func (a *app) provision(cmd *cobra.Command, path string) error {
	users, err := a.loadUnique(cmd, path)
	if err != nil {
		return err
	}
	p, err := a.provisioner()
	if err != nil {
		return err
	}
	sum, err := p.ProvisionAll(users)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), i18n.T("summary.done", len(users), sum.Created, sum.Adopted, sum.Existed))
	return nil
}

func newReconcileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [path_to_yaml_file]",
		Short: i18n.T("cli.reconcile.short"),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Manifest.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			r := reconcile.New(a.env.fs, a.cfg.HomeRoot)
			_, rejected, err := reconcile.SyncManifest(path, r, reconcile.SyncOptions{
				Backup: a.cfg.Manifest.Backup,
				Now:    a.env.now,
			})
			if err != nil {
				return err
			}
			if len(rejected) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("summary.rejected", len(rejected)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("reconcile.updated", path))
			return nil
		},
	}
	cmd.Flags().Bool("backup", true, i18n.T("cli.flag.backup"))
	annotate(cmd, "backup", "manifest.backup")
	return cmd
}

func newEnsureSSHCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensure-ssh <path_to_yaml_file>",
		Short: i18n.T("cli.ensure_ssh.short"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.loadUnique(cmd, args[0])
			if err != nil {
				return err
			}
			p, err := a.provisioner()
			if err != nil {
				return err
			}
			if err := p.EnsureSSHDirs(users); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("ensure_ssh.done", len(users)))
			return nil
		},
	}
	cmd.Flags().String("strategy", "", i18n.T("cli.flag.strategy"))
	annotate(cmd, "strategy", "keys.batch_strategy")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: i18n.T("cli.version.short"),
		Args:  cobra.NoArgs,
		// The root pre-run would load config; version needs none.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "keysync", buildvars.VersionOrDefault("dev"))
			return nil
		},
	}
}
