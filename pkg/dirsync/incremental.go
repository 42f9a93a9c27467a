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
)

// IncrementalUserSync reconciles a single already-known user's group
// membership against the directory (§4.5: fired on demand, e.g. at
// login, rather than walking the whole directory). It fetches the
// user's current directory groups, adds/removes Defguard group
// membership to match, and resyncs the user's device peers if
// anything changed.
func (s *Service) IncrementalUserSync(ctx context.Context, provider directory.Provider, email string) error {
	u, ok := s.store.GetUserByEmail(email)
	if !ok {
		return fmt.Errorf("dirsync: incremental sync requested for unknown user %q", email)
	}

	groups, err := provider.GetUserGroups(ctx, email)
	if err != nil {
		return fmt.Errorf("dirsync: fetch groups for %q: %w", email, err)
	}

	guard := newAdminGuardFor(s.store)
	changed, err := s.reconcileUserGroups(u.ID, groups, guard)
	if err != nil {
		return err
	}
	if changed && s.gateways != nil {
		if err := s.gateways.ResyncUserDevicePeers(u.ID); err != nil {
			s.log.Warn("device peer resync failed", "user_id", u.ID, "err", err)
		}
	}
	return nil
}
