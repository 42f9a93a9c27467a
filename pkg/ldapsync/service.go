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

package ldapsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/defguard/core/pkg/users"
)

// Directory is the RFC-4511 operations C6 needs, implemented against a
// real LDAP connection by pkg/ldapsync's Client (go-ldap/ldap/v3).
type Directory interface {
	SearchUsers(ctx context.Context) ([]LdapUser, error)
	SearchUserByUsername(ctx context.Context, username string) (LdapUser, bool, error)
	CreateUser(ctx context.Context, u LdapUser) error
	UpdateUser(ctx context.Context, u LdapUser) error
	DeleteUser(ctx context.Context, dn string) error
	AddUserToGroup(ctx context.Context, userDN, groupName string) error
	RemoveUserFromGroup(ctx context.Context, userDN, groupName string) error
	SearchGroups(ctx context.Context) ([]string, error)
	GroupMemberDNs(ctx context.Context, groupName string) ([]string, error)
}

// Store is the Defguard-side persistence interface C6 needs. Shaped
// like pkg/dirsync's Store, extended with the DN bookkeeping LDAP
// reconciliation requires.
type Store interface {
	ActiveAdminCount() int
	ListAllUsers() []users.User
	GetUserByUsername(username string) (users.User, bool)
	UpdateUser(u users.User) error
	CreateUser(u users.User) (users.User, error)
	DeleteUser(userID int64) error

	GetOrCreateGroupByName(name string) (users.Group, error)
	GetGroupByID(groupID int64) (users.Group, bool)
	UserGroupIDs(userID int64) []int64
	UserGroupNames(userID int64) []string
	AddUserToGroup(userID, groupID int64) error
	RemoveUserFromGroup(userID, groupID int64) error
}

// GatewayNotifier resyncs a user's device peers through C7 when group
// membership changes, mirroring pkg/dirsync's notifier.
type GatewayNotifier interface {
	ResyncUserDevicePeers(userID int64) error
}

// Service implements the §4.6 LDAP reconciliation core.
type Service struct {
	store Store
	dir   Directory
	gw    GatewayNotifier
	cfg   Config
	log   *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, dir Directory, gw GatewayNotifier, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, dir: dir, gw: gw, cfg: cfg, log: log.With("component", "ldapsync")}
}

// Result summarizes a sync run, mirroring pkg/dirsync.Result.
type Result struct {
	UsersCreatedDefguard int
	UsersDeletedDefguard int
	UsersCreatedLDAP     int
	UsersDeletedLDAP     int
	AttrsReconciled      int
	GroupsAdded          int
	GroupsRemoved        int
	SkippedUsers         []string
}

// FixMissingUserPaths self-heals users whose ldap_user_path is empty
// (§4.6 "DN handling"): it searches LDAP by username, compares RDN
// values, and stores the server-observed path when it finds a match.
func (s *Service) FixMissingUserPaths(ctx context.Context) error {
	for _, u := range s.store.ListAllUsers() {
		if u.FromLDAP && u.LDAPUserPath == "" {
			lu, found, err := s.dir.SearchUserByUsername(ctx, u.Username)
			if err != nil {
				s.log.Warn("fix missing path: search failed", "username", u.Username, "err", err)
				continue
			}
			if !found {
				continue
			}
			if lu.RDN != u.LDAPRDN && u.LDAPRDN != "" {
				s.log.Warn("fix missing path: RDN mismatch, skipping", "username", u.Username)
				continue
			}
			u.LDAPRDN = lu.RDN
			u.LDAPUserPath = lu.UserPath
			if err := s.store.UpdateUser(u); err != nil {
				s.log.Warn("fix missing path: update failed", "username", u.Username, "err", err)
			}
		}
	}
	return nil
}

// FullSync reconciles every user and group membership against LDAP,
// per the configured Authority (§4.5 "Tie-breaks and authority"). It
// should only run when the persisted sync status is OutOfSync, or when
// explicitly requested — that gate is the caller's responsibility
// (mirrors the Rust source's "full sync only runs when OutOfSync").
func (s *Service) FullSync(ctx context.Context) (Result, error) {
	var res Result

	if err := s.FixMissingUserPaths(ctx); err != nil {
		return res, err
	}

	ldapUsers, err := s.dir.SearchUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("ldapsync: search users: %w", err)
	}

	allDefguard := s.inScopeUsers()
	intersecting, defguardOnly, ldapOnly := extractIntersectingUsers(allDefguard, ldapUsers)

	guard := users.NewAdminGuard(s.store.ActiveAdminCount(), s.log)

	// Attribute reconciliation for users present on both sides.
	for _, pair := range intersecting {
		if !attrsDiffer(pair.Defguard, pair.LDAP, s.cfg) {
			continue
		}
		switch s.cfg.Authority {
		case AuthorityLDAP:
			updated := applyLdapAttrs(pair.Defguard, pair.LDAP, s.cfg)
			if err := s.store.UpdateUser(updated); err != nil {
				s.log.Warn("attr sync: update failed", "username", pair.Defguard.Username, "err", err)
				res.SkippedUsers = append(res.SkippedUsers, pair.Defguard.Email)
				continue
			}
			res.AttrsReconciled++
		case AuthorityDefguard:
			if err := s.dir.UpdateUser(ctx, ldapUserFrom(pair.Defguard)); err != nil {
				s.log.Warn("attr sync: LDAP update failed", "username", pair.Defguard.Username, "err", err)
				res.SkippedUsers = append(res.SkippedUsers, pair.Defguard.Email)
				continue
			}
			res.AttrsReconciled++
		}
	}

	// Disjoint sets: add/delete on whichever side is not authoritative.
	switch s.cfg.Authority {
	case AuthorityLDAP:
		for _, lu := range ldapOnly {
			if _, exists := s.store.GetUserByUsername(lu.Username); exists {
				continue
			}
			nu := users.User{
				Username:  lu.Username,
				Email:     lu.Email,
				FirstName: lu.FirstName,
				LastName:  lu.LastName,
				Phone:     lu.Phone,
				Active:    true,
				FromLDAP:  true,
				LDAPRDN:   lu.RDN,
				LDAPUserPath: lu.UserPath,
			}
			if _, err := s.store.CreateUser(nu); err != nil {
				s.log.Warn("full sync: create Defguard user failed", "username", lu.Username, "err", err)
				res.SkippedUsers = append(res.SkippedUsers, lu.Email)
				continue
			}
			res.UsersCreatedDefguard++
		}
		for _, u := range defguardOnly {
			if !ldapSyncAllowedForUser(u) {
				continue // §4.6: inactive/unenrolled users are never deleted for LDAP absence
			}
			isAdmin := false
			for _, gid := range s.store.UserGroupIDs(u.ID) {
				if g, ok := s.store.GetGroupByID(gid); ok && g.IsAdmin {
					isAdmin = true
					break
				}
			}
			if isAdmin && !guard.Allow(u.ID, u.Email) {
				res.SkippedUsers = append(res.SkippedUsers, u.Email)
				continue
			}
			if err := s.store.DeleteUser(u.ID); err != nil {
				s.log.Warn("full sync: delete Defguard user failed", "username", u.Username, "err", err)
				continue
			}
			res.UsersDeletedDefguard++
		}
	case AuthorityDefguard:
		for _, lu := range ldapOnly {
			if err := s.dir.DeleteUser(ctx, lu.DN()); err != nil {
				s.log.Warn("full sync: delete LDAP user failed", "username", lu.Username, "err", err)
				res.SkippedUsers = append(res.SkippedUsers, lu.Email)
				continue
			}
			res.UsersDeletedLDAP++
		}
		for _, u := range defguardOnly {
			if !ldapSyncAllowedForUser(u) {
				continue
			}
			if err := s.dir.CreateUser(ctx, ldapUserFrom(u)); err != nil {
				s.log.Warn("full sync: create LDAP user failed", "username", u.Username, "err", err)
				res.SkippedUsers = append(res.SkippedUsers, u.Email)
				continue
			}
			res.UsersCreatedLDAP++
		}
	}

	groupRes, err := s.fullGroupSync(ctx)
	if err != nil {
		return res, err
	}
	res.GroupsAdded += groupRes.GroupsAdded
	res.GroupsRemoved += groupRes.GroupsRemoved

	return res, nil
}

// inScopeUsers returns the Defguard users eligible for LDAP sync: when
// a sync-groups filter is configured, only members of those groups
// participate (§4.6 "Sync-groups filter").
func (s *Service) inScopeUsers() []users.User {
	all := s.store.ListAllUsers()
	if len(s.cfg.SyncGroups) == 0 {
		return all
	}
	var out []users.User
	for _, u := range all {
		if syncGroupAllowed(s.cfg, s.store.UserGroupNames(u.ID)) {
			out = append(out, u)
		}
	}
	return out
}

func ldapUserFrom(u users.User) LdapUser {
	return LdapUser{
		RDN:       u.LDAPRDN,
		UserPath:  u.LDAPUserPath,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
	}
}
