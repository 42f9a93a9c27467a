/*
Copyright 2024 The Defguard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ldapsync mirrors pkg/dirsync's shape against an RFC-4511
// directory (§4.6): DN/RDN handling, attribute diffing, intersection
// extraction, a sync-groups filter, and the same add/delete ×
// Defguard/LDAP change-set structure as C5.
package ldapsync

import "github.com/defguard/core/pkg/users"

// Authority selects which side prevails when LDAP and Defguard
// disagree about a user's existence or attributes (§4.5 "Tie-breaks").
type Authority int

const (
	AuthorityLDAP Authority = iota
	AuthorityDefguard
)

// SyncStatus is the persisted `ldap_sync_status` flag (§6 "Persisted
// state"): a full sync only runs when OutOfSync, or when explicitly
// requested.
type SyncStatus int

const (
	StatusInSync SyncStatus = iota
	StatusOutOfSync
)

// Config carries the admin-configurable behavior of an LDAP sync run.
type Config struct {
	Authority    Authority
	SyncGroups   []string // §4.6 "sync-groups filter": empty means "all users"
	UsingUsernameAsRDN bool // when true, username is not compared/synced as an attribute
}

// LdapUser is the subset of a directory entry §4.6 reconciles against
// users.User: the full DN split into RDN/path per §3, plus the
// attributes the diff in §4.6 compares.
type LdapUser struct {
	RDN       string // first DN component, e.g. "cn=jdoe"
	UserPath  string // remaining DN components
	Username  string
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// DN reassembles the full distinguished name from RDN + path.
func (u LdapUser) DN() string {
	if u.UserPath == "" {
		return u.RDN
	}
	return u.RDN + "," + u.UserPath
}

// ldapSyncAllowedForUser implements the §4.6 gate: inactive or
// unenrolled users never participate in LDAP operations.
func ldapSyncAllowedForUser(u users.User) bool {
	return u.Active && u.Enrolled()
}

// syncGroupAllowed reports whether u is in scope for this sync run per
// the configured sync-groups filter: no filter means every user is in
// scope.
func syncGroupAllowed(cfg Config, userGroupNames []string) bool {
	if len(cfg.SyncGroups) == 0 {
		return true
	}
	want := make(map[string]struct{}, len(cfg.SyncGroups))
	for _, g := range cfg.SyncGroups {
		want[g] = struct{}{}
	}
	for _, g := range userGroupNames {
		if _, ok := want[g]; ok {
			return true
		}
	}
	return false
}
