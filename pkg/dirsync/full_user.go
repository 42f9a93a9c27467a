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

// FullUserSync reconciles Defguard's user set against the directory's
// full user list (§4.5 full-user-sync): directory-active users are
// (re-)enabled, directory-absent users are kept/disabled/deleted per
// role policy, and — for providers that prefetch — directory users
// with no Defguard account yet are created eagerly. The last-admin
// invariant is enforced once across the whole batch via AdminGuard.
func (s *Service) FullUserSync(ctx context.Context, provider directory.Provider) (Result, error) {
	var res Result

	directoryUsers, err := provider.GetAllUsers(ctx)
	if err != nil {
		return res, err
	}
	byEmail := make(map[string]directory.DirectoryUser, len(directoryUsers))
	for _, du := range directoryUsers {
		byEmail[du.Email] = du
	}

	guard := newAdminGuardFor(s.store)

	for _, u := range s.store.ListAllUsers() {
		if u.FromLDAP {
			continue // LDAP-authoritative users are reconciled by pkg/ldapsync, not here
		}
		du, present := byEmail[u.Email]

		if present {
			if du.Active && !u.Active {
				if err := s.store.SetUserActive(u.ID, true); err != nil {
					s.log.Warn("re-enable failed", "email", u.Email, "err", err)
					res.SkippedUsers = append(res.SkippedUsers, u.Email)
					continue
				}
				res.UsersEnabled++
			} else if !du.Active && u.Active {
				s.applyAbsencePolicy(u, guard, &res)
			}
			continue
		}

		// Directory no longer reports this user at all: treat the same
		// as a directory-side deactivation.
		if u.Active {
			s.applyAbsencePolicy(u, guard, &res)
		}
	}

	if pf, ok := provider.(directory.PrefetchUsersProvider); ok && pf.PrefetchUsers() {
		if err := s.prefetchNewUsers(directoryUsers, &res); err != nil {
			return res, err
		}
	}

	return res, nil
}

// applyAbsencePolicy disables or deletes u per its role's configured
// policy, refusing when doing so would remove the last active admin.
func (s *Service) applyAbsencePolicy(u users.User, guard *users.AdminGuard, res *Result) {
	policy := s.cfg.UserPolicy
	admin := s.isAdmin(u.ID)
	if admin {
		policy = s.cfg.AdminPolicy
	}
	if policy == PolicyKeep {
		return
	}
	if admin && !guard.Allow(u.ID, u.Email) {
		res.SkippedUsers = append(res.SkippedUsers, u.Email)
		return
	}
	switch policy {
	case PolicyDisable:
		if err := s.store.SetUserActive(u.ID, false); err != nil {
			s.log.Warn("disable failed", "email", u.Email, "err", err)
			return
		}
		res.UsersDisabled++
	case PolicyDelete:
		if err := s.store.DeleteUser(u.ID); err != nil {
			s.log.Warn("delete failed", "email", u.Email, "err", err)
			return
		}
		res.UsersDeleted++
	}
}

func (s *Service) isAdmin(userID int64) bool {
	for _, id := range s.store.UserGroupIDs(userID) {
		if grp, ok := s.store.GetGroupByID(id); ok && grp.IsAdmin {
			return true
		}
	}
	return false
}

// prefetchNewUsers creates a Defguard account for every active
// directory user with no existing account, synthesizing a username per
// cfg.UsernameHandling. Per §4.5, a synthesized username colliding with
// an existing distinct user aborts the whole sync rather than being
// skipped like an ordinary per-user failure — the caller must not end
// up with an ambiguous partial batch of prefetched accounts.
func (s *Service) prefetchNewUsers(directoryUsers []directory.DirectoryUser, res *Result) error {
	existingUsernames := make(map[string]struct{})
	for _, u := range s.store.ListAllUsers() {
		existingUsernames[u.Username] = struct{}{}
	}

	for _, du := range directoryUsers {
		if !du.Active {
			continue
		}
		if _, ok := s.store.GetUserByEmail(du.Email); ok {
			continue
		}

		candidate := users.PruneUsername(du.Email, s.cfg.UsernameHandling)
		if err := users.ValidateUsername(candidate); err != nil {
			s.log.Warn("prefetch: synthesized username invalid", "email", du.Email, "candidate", candidate, "err", err)
			res.SkippedUsers = append(res.SkippedUsers, du.Email)
			continue
		}
		if _, taken := existingUsernames[candidate]; taken {
			return fmt.Errorf("dirsync: synthesized username %q for %q collides with an existing distinct user, aborting sync", candidate, du.Email)
		}

		newUser := users.User{
			Username:          candidate,
			Email:             du.Email,
			FirstName:         du.Details["first_name"],
			LastName:          du.Details["last_name"],
			Active:            true,
			EnrollmentPending: true,
		}
		if _, err := s.store.CreateUser(newUser); err != nil {
			s.log.Warn("prefetch: create user failed", "email", du.Email, "err", err)
			res.SkippedUsers = append(res.SkippedUsers, du.Email)
			continue
		}
		existingUsernames[candidate] = struct{}{}
		res.UsersCreated++
	}
	return nil
}
