// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package manifest reads and writes the YAML user manifest.
//
//	users:
//	  - username: alice
//	    userid: 1500
//	    groupid: 1500
//	    sshkeys:
//	      - ssh-ed25519 AAAA... alice@laptop
//
// Only the users key is interpreted. Other top-level keys are ignored on
// load and carried over unchanged when the manifest is written back.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/toeirei/keysync/internal/model"
)

// ErrInvalidManifest is returned for YAML that parses but does not match the
// manifest schema.
var ErrInvalidManifest = errors.New("invalid manifest")

// loginNameRe accepts portable POSIX login names. Anything else could escape
// the home root once joined into a path.
var loginNameRe = regexp.MustCompile(`^[A-Za-z0-9_.][A-Za-z0-9_.-]*\$?$`)

// rawUser mirrors model.UserRecord with pointers so a missing key can be told
// apart from a zero value.
type rawUser struct {
	Username *string   `yaml:"username" validate:"required,loginname"`
	UserID   *int      `yaml:"userid" validate:"required,min=0"`
	GroupID  *int      `yaml:"groupid" validate:"required,min=0"`
	SSHKeys  *[]string `yaml:"sshkeys"`
}

type rawManifest struct {
	Users []rawUser `yaml:"users"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("loginname", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "." && s != ".." && loginNameRe.MatchString(s)
	})
	return v
}

// Load reads and parses the manifest at path.
func Load(path string) (*model.Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes manifest YAML. A document without a users key, or an empty
// document, yields a manifest with no users.
func Parse(data []byte) (*model.Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m := &model.Manifest{Users: make([]model.UserRecord, 0, len(raw.Users))}
	for i, ru := range raw.Users {
		if err := validate.Struct(ru); err != nil {
			return nil, fmt.Errorf("%w: users[%d]: %s", ErrInvalidManifest, i, describe(err))
		}
		if ru.SSHKeys == nil {
			return nil, fmt.Errorf("%w: users[%d]: sshkeys is required", ErrInvalidManifest, i)
		}
		m.Users = append(m.Users, model.UserRecord{
			Username: *ru.Username,
			UserID:   *ru.UserID,
			GroupID:  *ru.GroupID,
			SSHKeys:  append([]string(nil), (*ru.SSHKeys)...),
		})
	}
	return m, nil
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must be >= "+fe.Param())
		case "loginname":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a valid login name", field, fe.Value()))
		default:
			msgs = append(msgs, field+" failed "+fe.Tag())
		}
	}
	return strings.Join(msgs, ", ")
}
