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
	"testing"

	"github.com/defguard/core/pkg/users"
)

type memStore struct {
	nextUserID  int64
	nextGroupID int64
	usersByID   map[int64]users.User
	groupsByID  map[int64]users.Group
	groupByName map[string]int64
	membership  map[int64]map[int64]bool
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

func (m *memStore) ListAllUsers() []users.User {
	out := make([]users.User, 0, len(m.usersByID))
	for _, u := range m.usersByID {
		out = append(out, u)
	}
	return out
}

func (m *memStore) GetUserByUsername(username string) (users.User, bool) {
	for _, u := range m.usersByID {
		if u.Username == username {
			return u, true
		}
	}
	return users.User{}, false
}

func (m *memStore) UpdateUser(u users.User) error {
	m.usersByID[u.ID] = u
	return nil
}

func (m *memStore) CreateUser(u users.User) (users.User, error) {
	m.nextUserID++
	u.ID = m.nextUserID
	m.usersByID[u.ID] = u
	return u, nil
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

func (m *memStore) UserGroupNames(userID int64) []string {
	var out []string
	for _, gid := range m.UserGroupIDs(userID) {
		out = append(out, m.groupsByID[gid].Name)
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

type fakeDirectory struct {
	users     []LdapUser
	groups    []string
	members   map[string][]string
	deleted   []string
	created   []LdapUser
	updated   []LdapUser
}

func (f *fakeDirectory) SearchUsers(context.Context) ([]LdapUser, error) { return f.users, nil }
func (f *fakeDirectory) SearchUserByUsername(_ context.Context, username string) (LdapUser, bool, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return LdapUser{}, false, nil
}
func (f *fakeDirectory) CreateUser(_ context.Context, u LdapUser) error {
	f.created = append(f.created, u)
	f.users = append(f.users, u)
	return nil
}
func (f *fakeDirectory) UpdateUser(_ context.Context, u LdapUser) error {
	f.updated = append(f.updated, u)
	return nil
}
func (f *fakeDirectory) DeleteUser(_ context.Context, dn string) error {
	f.deleted = append(f.deleted, dn)
	return nil
}
func (f *fakeDirectory) AddUserToGroup(context.Context, string, string) error    { return nil }
func (f *fakeDirectory) RemoveUserFromGroup(context.Context, string, string) error { return nil }
func (f *fakeDirectory) SearchGroups(context.Context) ([]string, error)         { return f.groups, nil }
func (f *fakeDirectory) GroupMemberDNs(_ context.Context, group string) ([]string, error) {
	return f.members[group], nil
}

func TestFullSyncLdapAuthorityCreatesDefguardUser(t *testing.T) {
	store := newMemStore()
	dir := &fakeDirectory{users: []LdapUser{
		{RDN: "uid=jdoe", UserPath: "ou=people,dc=example,dc=com", Username: "jdoe", Email: "jdoe@example.com"},
	}}
	svc := NewService(store, dir, nil, Config{Authority: AuthorityLDAP}, nil)

	res, err := svc.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if res.UsersCreatedDefguard != 1 {
		t.Fatalf("expected 1 created, got %d", res.UsersCreatedDefguard)
	}
	u, ok := store.GetUserByUsername("jdoe")
	if !ok || !u.FromLDAP {
		t.Fatalf("expected jdoe to exist and be marked FromLDAP, got %+v ok=%v", u, ok)
	}
}

func TestFullSyncLdapAuthorityDeletesAbsentEnrolledUser(t *testing.T) {
	store := newMemStore()
	store.CreateUser(users.User{Username: "gone", Email: "gone@example.com", Active: true, PasswordHash: "x", FromLDAP: true, LDAPRDN: "uid=gone", LDAPUserPath: "ou=people,dc=example,dc=com"})
	dir := &fakeDirectory{}
	svc := NewService(store, dir, nil, Config{Authority: AuthorityLDAP}, nil)

	res, err := svc.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if res.UsersDeletedDefguard != 1 {
		t.Fatalf("expected 1 deleted, got %d", res.UsersDeletedDefguard)
	}
}

func TestFullSyncPreservesLastAdmin(t *testing.T) {
	store := newMemStore()
	admins := store.makeAdminGroup("admins")
	u, _ := store.CreateUser(users.User{Username: "admin", Email: "admin@example.com", Active: true, PasswordHash: "x", FromLDAP: true, LDAPRDN: "uid=admin", LDAPUserPath: "ou=people,dc=example,dc=com"})
	store.AddUserToGroup(u.ID, admins.ID)

	dir := &fakeDirectory{}
	svc := NewService(store, dir, nil, Config{Authority: AuthorityLDAP}, nil)

	res, err := svc.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if res.UsersDeletedDefguard != 0 {
		t.Fatalf("expected the last admin to survive, deleted=%d", res.UsersDeletedDefguard)
	}
	if _, ok := store.GetUserByUsername("admin"); !ok {
		t.Fatalf("expected admin to still exist")
	}
}

func TestAttrsDifferIgnoresEmptyPhoneVsUnset(t *testing.T) {
	u := users.User{Phone: ""}
	lu := LdapUser{Phone: ""}
	if attrsDiffer(u, lu, Config{}) {
		t.Fatalf("expected empty-string phones to be treated as equal")
	}
}

func TestExtractIntersectingUsers(t *testing.T) {
	defguardUsers := []users.User{
		{Username: "a", LDAPRDN: "uid=a", LDAPUserPath: "ou=people,dc=example,dc=com"},
		{Username: "b", LDAPRDN: "uid=b", LDAPUserPath: "ou=people,dc=example,dc=com"},
	}
	ldapUsers := []LdapUser{
		{Username: "a", RDN: "uid=a", UserPath: "ou=people,dc=example,dc=com"},
		{Username: "c", RDN: "uid=c", UserPath: "ou=people,dc=example,dc=com"},
	}
	intersecting, defguardOnly, ldapOnly := extractIntersectingUsers(defguardUsers, ldapUsers)
	if len(intersecting) != 1 || intersecting[0].Defguard.Username != "a" {
		t.Fatalf("expected exactly user a to intersect, got %+v", intersecting)
	}
	if len(defguardOnly) != 1 || defguardOnly[0].Username != "b" {
		t.Fatalf("expected b defguard-only, got %+v", defguardOnly)
	}
	if len(ldapOnly) != 1 || ldapOnly[0].Username != "c" {
		t.Fatalf("expected c ldap-only, got %+v", ldapOnly)
	}
}
