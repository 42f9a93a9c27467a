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

package users

import "log/slog"

// AdminGuard enforces the last-admin invariant (§7/§9) across a batch
// of disable/delete/demote operations: it counts active admins once at
// the start of the batch and decrements on every operation it allows,
// rather than checking the count after the fact.
type AdminGuard struct {
	remaining int
	log       *slog.Logger
}

// NewAdminGuard seeds the guard with the current count of active users
// belonging to an is_admin group.
func NewAdminGuard(activeAdminCount int, log *slog.Logger) *AdminGuard {
	if log == nil {
		log = slog.Default()
	}
	return &AdminGuard{remaining: activeAdminCount, log: log.With("component", "admin_guard")}
}

// Allow reports whether removing/disabling one more admin is safe. If
// it is, the guard's internal count is decremented so the next call
// reflects the effect of this one. userID/email are used only for the
// warning log when the operation is refused.
func (g *AdminGuard) Allow(userID int64, email string) bool {
	if g.remaining <= 1 {
		g.log.Warn("refusing to remove last admin", "user_id", userID, "email", email)
		return false
	}
	g.remaining--
	return true
}

// Remaining returns the current tracked admin count.
func (g *AdminGuard) Remaining() int {
	return g.remaining
}
