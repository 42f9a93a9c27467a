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

package dirsync

import (
	"context"
	"fmt"

	"github.com/defguard/core/pkg/directory"
	"github.com/defguard/core/pkg/users"
)

func newAdminGuardFor(store Store) *users.AdminGuard {
	return users.NewAdminGuard(store.ActiveAdminCount(), nil)
}

// reconcileUserGroups makes userID's Defguard group membership match
// target, returning whether anything changed. Removing a user from an
// is_admin group is subject to guard; the membership is left in place
// (not silently dropped) when the guard refuses it.
func (s *Service) reconcileUserGroups(userID int64, target []directory.DirectoryGroup, guard *users.AdminGuard) (bool, error) {
	targetIDs := make(map[int64]struct{}, len(target))
	for _, g := range target {
		grp, err := s.store.GetOrCreateGroupByName(g.Name)
		if err != nil {
			return false, fmt.Errorf("dirsync: resolve group %q: %w", g.Name, err)
		}
		targetIDs[grp.ID] = struct{}{}
	}

	current := s.store.UserGroupIDs(userID)
	currentIDs := make(map[int64]struct{}, len(current))
	for _, id := range current {
		currentIDs[id] = struct{}{}
	}

	changed := false

	for id := range targetIDs {
		if _, present := currentIDs[id]; present {
			continue
		}
		if err := s.store.AddUserToGroup(userID, id); err != nil {
			return changed, fmt.Errorf("dirsync: add user %d to group %d: %w", userID, id, err)
		}
		s.notifyLDAPGroupChange(userID, id, true)
		changed = true
	}

	for id := range currentIDs {
		if _, present := targetIDs[id]; present {
			continue
		}
		grp, ok := s.store.GetGroupByID(id)
		if ok && grp.IsAdmin && guard != nil {
			if !guard.Allow(userID, "") {
				continue
			}
		}
		if err := s.store.RemoveUserFromGroup(userID, id); err != nil {
			return changed, fmt.Errorf("dirsync: remove user %d from group %d: %w", userID, id, err)
		}
		s.notifyLDAPGroupChange(userID, id, false)
		changed = true
	}

	return changed, nil
}

func (s *Service) notifyLDAPGroupChange(userID, groupID int64, added bool) {
	if s.ldap == nil {
		return
	}
	grp, ok := s.store.GetGroupByID(groupID)
	if !ok {
		return
	}
	var err error
	if added {
		err = s.ldap.AddUserToGroup(userID, grp.Name)
	} else {
		err = s.ldap.RemoveUserFromGroup(userID, grp.Name)
	}
	if err != nil {
		s.log.Warn("ldap group mirror failed", "user_id", userID, "group", grp.Name, "added", added, "err", err)
	}
}

// FullGroupSync reconciles every known Defguard user's group
// membership against the directory in one pass (§4.5 full-group-sync).
// A user whose GetUserGroups call fails is skipped and keeps its
// memberships; a successful empty answer removes all of the user's
// groups (admin-group removals still pass through the AdminGuard).
func (s *Service) FullGroupSync(ctx context.Context, provider directory.Provider) (Result, error) {
	var res Result
	guard := newAdminGuardFor(s.store)

	for _, u := range s.store.ListAllUsers() {
		if !u.Active || u.FromLDAP {
			continue
		}
		groups, err := provider.GetUserGroups(ctx, u.Email)
		if err != nil {
			s.log.Warn("full group sync: fetch groups failed", "email", u.Email, "err", err)
			res.SkippedUsers = append(res.SkippedUsers, u.Email)
			continue
		}
		before := make(map[int64]bool)
		for _, id := range s.store.UserGroupIDs(u.ID) {
			before[id] = true
		}
		changed, err := s.reconcileUserGroups(u.ID, groups, guard)
		if err != nil {
			s.log.Warn("full group sync: reconcile failed", "email", u.Email, "err", err)
			res.SkippedUsers = append(res.SkippedUsers, u.Email)
			continue
		}
		for _, id := range s.store.UserGroupIDs(u.ID) {
			if before[id] {
				delete(before, id)
			} else {
				res.GroupsAdded++
			}
		}
		res.GroupsRemoved += len(before)
		if changed && s.gateways != nil {
			if err := s.gateways.ResyncUserDevicePeers(u.ID); err != nil {
				s.log.Warn("device peer resync failed", "user_id", u.ID, "err", err)
			}
		}
	}
	return res, nil
}
