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

// Package dirsync implements the directory reconciliation core (§4.5):
// incremental per-user sync, full-user sync, and full-group sync
// against a directory.Provider. Each operation runs whenever it is
// called; none checks license state or whether directory sync is
// enabled.
package dirsync

import (
	"log/slog"

	"github.com/defguard/core/pkg/users"
)

// RolePolicy selects what happens to a Defguard user absent from the
// directory, per role (§4.5 full-state-sync).
type RolePolicy int

const (
	PolicyKeep RolePolicy = iota
	PolicyDisable
	PolicyDelete
)

// SyncStatus is the persisted per-§4.5-authority flag gating whether a
// full sync runs.
type SyncStatus int

const (
	StatusInSync SyncStatus = iota
	StatusOutOfSync
)

// Config carries the admin-configurable behavior of a sync run.
type Config struct {
	AdminPolicy      RolePolicy
	UserPolicy       RolePolicy
	UsernameHandling users.UsernameHandling
}

// Store is the persistence interface the reconciliation core needs.
// pkg/db does not implement it.
type Store interface {
	ActiveAdminCount() int
	GetUserByEmail(email string) (users.User, bool)
	ListAllUsers() []users.User
	CreateUser(u users.User) (users.User, error)
	SetUserActive(userID int64, active bool) error
	DeleteUser(userID int64) error

	GetOrCreateGroupByName(name string) (users.Group, error)
	GetGroupByID(groupID int64) (users.Group, bool)
	UserGroupIDs(userID int64) []int64
	AddUserToGroup(userID, groupID int64) error
	RemoveUserFromGroup(userID, groupID int64) error
}

// GatewayNotifier resyncs a user's device peers through C7 when group
// membership (and therefore ACL-driven network access) changes.
type GatewayNotifier interface {
	ResyncUserDevicePeers(userID int64) error
}

// LDAPNotifier fans out the group add/remove side-effects a directory
// sync produces into the paired LDAP directory (§4.5).
type LDAPNotifier interface {
	AddUserToGroup(userID int64, groupName string) error
	RemoveUserFromGroup(userID int64, groupName string) error
}

// Service implements the three §4.5 operations.
type Service struct {
	store    Store
	gateways GatewayNotifier
	ldap     LDAPNotifier
	cfg      Config
	log      *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, gateways GatewayNotifier, ldap LDAPNotifier, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, gateways: gateways, ldap: ldap, cfg: cfg, log: log.With("component", "dirsync")}
}

// Result summarizes what a sync run did, for logging/observability.
type Result struct {
	UsersCreated  int
	UsersEnabled  int
	UsersDisabled int
	UsersDeleted  int
	GroupsAdded   int
	GroupsRemoved int
	SkippedUsers  []string // emails skipped due to a per-user error (§7: logged, doesn't abort the batch)
}
