// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads keysync settings from defaults, keysync.yaml, the
// KEYSYNC_* environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// KeyAnnotation on a flag names the config key it overrides. Flags without
// it are bound under their own name.
const KeyAnnotation = "keysync/config-key"

// Config is the full keysync configuration.
type Config struct {
	HomeRoot string `mapstructure:"home_root" yaml:"home_root" validate:"required"`
	Language string `mapstructure:"language" yaml:"language"`

	Log struct {
		Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	} `mapstructure:"log" yaml:"log"`

	Manifest struct {
		DefaultPath  string `mapstructure:"default_path" yaml:"default_path" validate:"required"`
		TemplatePath string `mapstructure:"template_path" yaml:"template_path"`
		Backup       bool   `mapstructure:"backup" yaml:"backup"`
	} `mapstructure:"manifest" yaml:"manifest"`

	SSH struct {
		ConfigDir   string `mapstructure:"config_dir" yaml:"config_dir"`
		TemplateDir string `mapstructure:"template_dir" yaml:"template_dir"`
	} `mapstructure:"ssh" yaml:"ssh"`

	Fail2ban struct {
		ConfigFile  string `mapstructure:"config_file" yaml:"config_file"`
		ConfigDir   string `mapstructure:"config_dir" yaml:"config_dir"`
		TemplateDir string `mapstructure:"template_dir" yaml:"template_dir"`
	} `mapstructure:"fail2ban" yaml:"fail2ban"`

	Password struct {
		Length int `mapstructure:"length" yaml:"length" validate:"min=1"`
	} `mapstructure:"password" yaml:"password"`

	Accounts struct {
		ApplyGroupID bool `mapstructure:"apply_group_id" yaml:"apply_group_id"`
	} `mapstructure:"accounts" yaml:"accounts"`

	Keys struct {
		Strategy      string `mapstructure:"strategy" yaml:"strategy" validate:"omitempty,oneof=append-once always-append"`
		BatchStrategy string `mapstructure:"batch_strategy" yaml:"batch_strategy" validate:"omitempty,oneof=append-once always-append"`
	} `mapstructure:"keys" yaml:"keys"`
}

// Defaults returns the built-in values for every key.
func Defaults() map[string]any {
	return map[string]any{
		"home_root":               "/home",
		"language":                "en",
		"log.level":               "info",
		"manifest.default_path":   "/config/users.yaml",
		"manifest.template_path":  "/defaults/config/users.yaml",
		"manifest.backup":         true,
		"ssh.config_dir":          "/etc/ssh",
		"ssh.template_dir":        "/defaults/ssh",
		"fail2ban.config_file":    "/etc/fail2ban/fail2ban.local",
		"fail2ban.config_dir":     "/etc/fail2ban",
		"fail2ban.template_dir":   "/defaults/fail2ban",
		"password.length":         128,
		"accounts.apply_group_id": false,
		"keys.strategy":           "append-once",
		"keys.batch_strategy":     "always-append",
	}
}

// Validate checks value ranges after loading.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Keysync")
		default:
			configDir = "/etc/keysync"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "keysync")
	}

	return filepath.Join(configDir, "keysync.yaml"), nil
}

// LoadConfig merges defaults, the config file, the environment and the
// flags of cmd into a T.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, error) {
	var c T
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName("keysync")
	v.SetConfigType("yaml")

	// 3. An explicit --config wins over the search paths.
	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	// 4. Read in the config file. Not finding one is fine.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	// 5. Environment
	v.SetEnvPrefix("keysync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 6. Flags
	if cmd != nil {
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			key := f.Name
			if ann, ok := f.Annotations[KeyAnnotation]; ok && len(ann) > 0 {
				key = ann[0]
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return c, bindErr
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// Load is LoadConfig for Config with the built-in defaults, followed by
// Validate.
func Load(cmd *cobra.Command, configFile *string) (Config, error) {
	c, err := LoadConfig[Config](cmd, Defaults(), configFile)
	if err != nil {
		return c, err
	}
	return c, c.Validate()
}

// WriteConfigFile writes c to the user or system config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	return os.WriteFile(path, data, 0o600)
}
