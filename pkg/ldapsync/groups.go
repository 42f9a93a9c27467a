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

	"github.com/defguard/core/pkg/users"
)

// groupResult is the group-membership-only subset of Result, returned
// by fullGroupSync and folded into the caller's Result.
type groupResult struct {
	GroupsAdded   int
	GroupsRemoved int
}

// fullGroupSync reconciles group membership for every in-scope user
// against LDAP's reported group→members mapping (§4.6 "Same four
// change-sets as C5"). Membership add/remove is always applied on the
// Defguard side per Authority LDAP; under Authority Defguard the LDAP
// side is updated instead. Every affected user's device peers are
// re-synced through C7.
func (s *Service) fullGroupSync(ctx context.Context) (groupResult, error) {
	var res groupResult

	groupNames, err := s.dir.SearchGroups(ctx)
	if err != nil {
		return res, fmt.Errorf("ldapsync: search groups: %w", err)
	}

	// memberDNs[group] = set of LDAP DNs reported as members.
	memberDNs := make(map[string]map[string]bool, len(groupNames))
	for _, g := range groupNames {
		dns, err := s.dir.GroupMemberDNs(ctx, g)
		if err != nil {
			s.log.Warn("full group sync: members lookup failed", "group", g, "err", err)
			continue
		}
		set := make(map[string]bool, len(dns))
		for _, dn := range dns {
			set[dn] = true
		}
		memberDNs[g] = set
	}

	affected := map[int64]bool{}

	for _, u := range s.inScopeUsers() {
		if !u.FromLDAP && s.cfg.Authority == AuthorityLDAP {
			continue // only LDAP-mirrored users carry LDAP group membership
		}
		dn := ldapUserFrom(u).DN()
		currentGroupIDs := s.store.UserGroupIDs(u.ID)
		currentByName := map[string]int64{}
		for _, gid := range currentGroupIDs {
			if g, ok := s.store.GetGroupByID(gid); ok {
				currentByName[g.Name] = gid
			}
		}

		for group, members := range memberDNs {
			_, hasDefguard := currentByName[group]
			hasLDAP := members[dn]

			if s.cfg.Authority == AuthorityDefguard {
				var err error
				switch {
				case hasDefguard && !hasLDAP:
					err = s.dir.AddUserToGroup(ctx, dn, group)
				case hasLDAP && !hasDefguard:
					err = s.dir.RemoveUserFromGroup(ctx, dn, group)
				}
				if err != nil {
					s.log.Warn("full group sync: LDAP membership update failed", "username", u.Username, "group", group, "err", err)
				}
				continue
			}

			switch {
			case hasLDAP && !hasDefguard:
				g, err := s.store.GetOrCreateGroupByName(group)
				if err != nil {
					s.log.Warn("full group sync: create group failed", "group", group, "err", err)
					continue
				}
				if err := s.store.AddUserToGroup(u.ID, g.ID); err != nil {
					s.log.Warn("full group sync: add failed", "username", u.Username, "group", group, "err", err)
					continue
				}
				res.GroupsAdded++
				affected[u.ID] = true
			case !hasLDAP && hasDefguard:
				if err := s.store.RemoveUserFromGroup(u.ID, currentByName[group]); err != nil {
					s.log.Warn("full group sync: remove failed", "username", u.Username, "group", group, "err", err)
					continue
				}
				res.GroupsRemoved++
				affected[u.ID] = true
			}
		}
	}

	for userID := range affected {
		if s.gw != nil {
			if err := s.gw.ResyncUserDevicePeers(userID); err != nil {
				s.log.Warn("full group sync: peer resync failed", "user_id", userID, "err", err)
			}
		}
	}

	return res, nil
}

// SyncUserGroupToLDAP propagates a single Defguard-side group
// membership change to LDAP synchronously, per §4.6's "Changes from
// Defguard are propagated to LDAP in real-time" design (grounded on
// the Rust source's incremental/synchronous half of sync.rs).
func (s *Service) SyncUserGroupToLDAP(ctx context.Context, u users.User, groupName string, added bool) error {
	dn := LdapUser{RDN: u.LDAPRDN, UserPath: u.LDAPUserPath}.DN()
	if added {
		return s.dir.AddUserToGroup(ctx, dn, groupName)
	}
	return s.dir.RemoveUserFromGroup(ctx, dn, groupName)
}
