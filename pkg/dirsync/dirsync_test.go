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
	"testing"

	"github.com/defguard/core/pkg/directory"
	"github.com/defguard/core/pkg/users"
)

type memStore struct {
	nextUserID  int64
	nextGroupID int64
	usersByID   map[int64]users.User
	groupsByID  map[int64]users.Group
	groupByName map[string]int64
	membership  map[int64]map[int64]bool // userID -> groupID -> present
}

func newMemStore() *memStore {
	return &memStore{
		usersByID:   map[int64]users.User{},
		groupsByID:  map[int64]users.Group{},
		groupByName: map[string]int64{},
		membership:  map[int64]map[int64]bool{},
	}
}

func (m *memStore) ActiveAdminCount() int {
	count := 0
	for _, u := range m.usersByID {
		if !u.Active {
			continue
		}
		for gid := range m.membership[u.ID] {
			if m.groupsByID[gid].IsAdmin {
				count++
				break
			}
		}
	}
	return count
}

func (m *memStore) GetUserByEmail(email string) (users.User, bool) {
	for _, u := range m.usersByID {
		if u.Email == email {
			return u, true
		}
	}
	return users.User{}, false
}

func (m *memStore) ListAllUsers() []users.User {
	out := make([]users.User, 0, len(m.usersByID))
	for _, u := range m.usersByID {
		out = append(out, u)
	}
	return out
}

func (m *memStore) CreateUser(u users.User) (users.User, error) {
	m.nextUserID++
	u.ID = m.nextUserID
	m.usersByID[u.ID] = u
	return u, nil
}

func (m *memStore) SetUserActive(userID int64, active bool) error {
	u := m.usersByID[userID]
	u.Active = active
	m.usersByID[userID] = u
	return nil
}

func (m *memStore) DeleteUser(userID int64) error {
	delete(m.usersByID, userID)
	delete(m.membership, userID)
	return nil
}

func (m *memStore) GetOrCreateGroupByName(name string) (users.Group, error) {
	if id, ok := m.groupByName[name]; ok {
		return m.groupsByID[id], nil
	}
	m.nextGroupID++
	g := users.Group{ID: m.nextGroupID, Name: name}
	m.groupsByID[g.ID] = g
	m.groupByName[name] = g.ID
	return g, nil
}

func (m *memStore) GetGroupByID(groupID int64) (users.Group, bool) {
	g, ok := m.groupsByID[groupID]
	return g, ok
}

func (m *memStore) UserGroupIDs(userID int64) []int64 {
	var out []int64
	for gid, present := range m.membership[userID] {
		if present {
			out = append(out, gid)
		}
	}
	return out
}

func (m *memStore) AddUserToGroup(userID, groupID int64) error {
	if m.membership[userID] == nil {
		m.membership[userID] = map[int64]bool{}
	}
	m.membership[userID][groupID] = true
	return nil
}

func (m *memStore) RemoveUserFromGroup(userID, groupID int64) error {
	delete(m.membership[userID], groupID)
	return nil
}

func (m *memStore) makeAdminGroup(name string) users.Group {
	g, _ := m.GetOrCreateGroupByName(name)
	g.IsAdmin = true
	m.groupsByID[g.ID] = g
	return g
}

type fakeDirProvider struct {
	allUsers     []directory.DirectoryUser
	groupsByUser map[string][]directory.DirectoryGroup
	prefetch     bool
}

func (p *fakeDirProvider) Prepare(context.Context) error       { return nil }
func (p *fakeDirProvider) TestConnection(context.Context) error { return nil }
func (p *fakeDirProvider) GetAllUsers(context.Context) ([]directory.DirectoryUser, error) {
	return p.allUsers, nil
}
func (p *fakeDirProvider) GetGroups(context.Context) ([]directory.DirectoryGroup, error) { return nil, nil }
func (p *fakeDirProvider) GetGroupMembers(context.Context, directory.DirectoryGroup, directory.AllUsersLookup) ([]string, error) {
	return nil, nil
}
func (p *fakeDirProvider) GetUserGroups(_ context.Context, email string) ([]directory.DirectoryGroup, error) {
	return p.groupsByUser[email], nil
}
func (p *fakeDirProvider) PrefetchUsers() bool { return p.prefetch }

func TestFullUserSyncDisablesAbsentUser(t *testing.T) {
	store := newMemStore()
	store.CreateUser(users.User{Email: "stays@example.com", Active: true})
	gone, _ := store.CreateUser(users.User{Email: "gone@example.com", Active: true})

	svc := NewService(store, nil, nil, Config{UserPolicy: PolicyDisable}, nil)
	provider := &fakeDirProvider{allUsers: []directory.DirectoryUser{
		{Email: "stays@example.com", Active: true},
	}}

	res, err := svc.FullUserSync(context.Background(), provider)
	if err != nil {
		t.Fatalf("FullUserSync: %v", err)
	}
	if res.UsersDisabled != 1 {
		t.Fatalf("expected 1 disabled, got %d", res.UsersDisabled)
	}
	if u, _ := store.GetUserByEmail("gone@example.com"); u.Active {
		t.Fatalf("expected %v to be disabled", gone)
	}
}

func TestFullUserSyncRefusesToDisableLastAdmin(t *testing.T) {
	store := newMemStore()
	admin := store.makeAdminGroup("admins")
	u, _ := store.CreateUser(users.User{Email: "admin@example.com", Active: true})
	store.AddUserToGroup(u.ID, admin.ID)

	svc := NewService(store, nil, nil, Config{AdminPolicy: PolicyDisable, UserPolicy: PolicyDisable}, nil)
	provider := &fakeDirProvider{}

	res, err := svc.FullUserSync(context.Background(), provider)
	if err != nil {
		t.Fatalf("FullUserSync: %v", err)
	}
	if res.UsersDisabled != 0 {
		t.Fatalf("expected the last admin to survive, disabled=%d", res.UsersDisabled)
	}
	if got, _ := store.GetUserByEmail("admin@example.com"); !got.Active {
		t.Fatalf("last admin must remain active")
	}
}

func TestFullUserSyncPrefetchesNewUsers(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, nil, Config{UsernameHandling: users.UsernameRemoveDomain}, nil)
	provider := &fakeDirProvider{
		prefetch: true,
		allUsers: []directory.DirectoryUser{{Email: "new.hire@example.com", Active: true}},
	}

	res, err := svc.FullUserSync(context.Background(), provider)
	if err != nil {
		t.Fatalf("FullUserSync: %v", err)
	}
	if res.UsersCreated != 1 {
		t.Fatalf("expected 1 prefetched user, got %d", res.UsersCreated)
	}
	u, ok := store.GetUserByEmail("new.hire@example.com")
	if !ok {
		t.Fatalf("expected prefetched user to exist")
	}
	if err := users.ValidateUsername(u.Username); err != nil {
		t.Fatalf("synthesized username invalid: %v", err)
	}
}

func TestFullUserSyncPrefetchAbortsOnUsernameCollision(t *testing.T) {
	store := newMemStore()
	store.CreateUser(users.User{Username: "new", Email: "new@already-here.example", Active: true})

	svc := NewService(store, nil, nil, Config{UsernameHandling: users.UsernameRemoveDomain}, nil)
	provider := &fakeDirProvider{
		prefetch: true,
		allUsers: []directory.DirectoryUser{{Email: "new@example.com", Active: true}},
	}

	_, err := svc.FullUserSync(context.Background(), provider)
	if err == nil {
		t.Fatalf("expected FullUserSync to abort on username collision, got nil error")
	}
	if _, ok := store.GetUserByEmail("new@example.com"); ok {
		t.Fatalf("colliding user must not have been created")
	}
}

func TestFullGroupSyncAddsAndRemoves(t *testing.T) {
	store := newMemStore()
	u, _ := store.CreateUser(users.User{Email: "member@example.com", Active: true})
	stale, _ := store.GetOrCreateGroupByName("stale")
	store.AddUserToGroup(u.ID, stale.ID)

	svc := NewService(store, nil, nil, Config{}, nil)
	provider := &fakeDirProvider{groupsByUser: map[string][]directory.DirectoryGroup{
		"member@example.com": {{ID: "g1", Name: "engineering"}},
	}}

	res, err := svc.FullGroupSync(context.Background(), provider)
	if err != nil {
		t.Fatalf("FullGroupSync: %v", err)
	}
	if res.GroupsAdded == 0 {
		t.Fatalf("expected at least one group added")
	}
	ids := store.UserGroupIDs(u.ID)
	found := false
	for _, id := range ids {
		if g, _ := store.GetGroupByID(id); g.Name == "engineering" {
			found = true
		}
		if g, _ := store.GetGroupByID(id); g.Name == "stale" {
			t.Fatalf("stale group membership should have been removed")
		}
	}
	if !found {
		t.Fatalf("expected user to be a member of engineering")
	}
}

func TestIncrementalUserSyncUpdatesMembership(t *testing.T) {
	store := newMemStore()
	u, _ := store.CreateUser(users.User{Email: "someone@example.com", Active: true})

	svc := NewService(store, nil, nil, Config{}, nil)
	provider := &fakeDirProvider{groupsByUser: map[string][]directory.DirectoryGroup{
		"someone@example.com": {{ID: "g1", Name: "sales"}},
	}}

	if err := svc.IncrementalUserSync(context.Background(), provider, "someone@example.com"); err != nil {
		t.Fatalf("IncrementalUserSync: %v", err)
	}
	ids := store.UserGroupIDs(u.ID)
	if len(ids) != 1 {
		t.Fatalf("expected exactly one group membership, got %d", len(ids))
	}
}
