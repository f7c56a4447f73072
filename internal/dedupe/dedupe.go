// Copyright (c) 2026 Keymaster Team
// Keysync - declarative SSH user provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package dedupe filters manifest records so that every surviving record has a
// username, uid, gid and key list not used by any earlier surviving record.
//
// The test is conjunctive: a collision on any single field drops the whole
// record, even when the remaining fields are new. First occurrence wins.
package dedupe

import (
	"strconv"
	"strings"

	"github.com/toeirei/keysync/internal/logging"
	"github.com/toeirei/keysync/internal/model"
)

type seenSets struct {
	usernames map[string]struct{}
	userIDs   map[int]struct{}
	groupIDs  map[int]struct{}
	keyLists  map[string]struct{}
}

func newSeenSets(n int) *seenSets {
	return &seenSets{
		usernames: make(map[string]struct{}, n),
		userIDs:   make(map[int]struct{}, n),
		groupIDs:  make(map[int]struct{}, n),
		keyLists:  make(map[string]struct{}, n),
	}
}

// keyListID identifies a key list by exact ordered content. Each key is
// length-prefixed so no two distinct lists share an id, whatever bytes the
// keys contain. A nil list and an empty list are the same value.
func keyListID(keys []string) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strconv.Itoa(len(k)))
		b.WriteByte(':')
		b.WriteString(k)
	}
	return b.String()
}

// collisions returns the names of the fields of u already present in s.
func (s *seenSets) collisions(u model.UserRecord) []string {
	var fields []string
	if _, ok := s.usernames[u.Username]; ok {
		fields = append(fields, "username")
	}
	if _, ok := s.userIDs[u.UserID]; ok {
		fields = append(fields, "userid")
	}
	if _, ok := s.groupIDs[u.GroupID]; ok {
		fields = append(fields, "groupid")
	}
	if _, ok := s.keyLists[keyListID(u.SSHKeys)]; ok {
		fields = append(fields, "sshkeys")
	}
	return fields
}

func (s *seenSets) add(u model.UserRecord) {
	s.usernames[u.Username] = struct{}{}
	s.userIDs[u.UserID] = struct{}{}
	s.groupIDs[u.GroupID] = struct{}{}
	s.keyLists[keyListID(u.SSHKeys)] = struct{}{}
}

// Dedupe returns the accepted records in manifest order together with one
// Rejection per dropped record. Rejected records contribute nothing to the
// seen sets. Each rejection is also logged at warn level.
func Dedupe(users []model.UserRecord) ([]model.UserRecord, []model.Rejection) {
	seen := newSeenSets(len(users))
	accepted := make([]model.UserRecord, 0, len(users))
	var rejected []model.Rejection

	for _, u := range users {
		if fields := seen.collisions(u); len(fields) > 0 {
			r := model.Rejection{Record: u, Fields: fields}
			logging.Warnf("%s", r)
			rejected = append(rejected, r)
			continue
		}
		accepted = append(accepted, u)
		seen.add(u)
	}
	return accepted, rejected
}
