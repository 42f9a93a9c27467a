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

package acl

import "fmt"

// Store is the narrow persistence interface the lifecycle logic needs;
// pkg/db implements it against Postgres. It mirrors the teacher's own
// preference for small, purpose-built read/write interfaces over the
// database (pkg/meshdb/state.State) rather than a generic repository.
type Store interface {
	NextRuleID() int64
	GetRule(id int64) (Rule, bool)
	PutRule(Rule)
	DeleteRule(id int64)
	// ChildOfRule returns the existing Modified/Deleted child of an
	// Applied rule, if any.
	ChildOfRule(parentID int64) (Rule, bool)

	NextAliasID() int64
	GetAlias(id int64) (Alias, bool)
	PutAlias(Alias)
	DeleteAlias(id int64)
	ChildOfAlias(parentID int64) (Alias, bool)
	// AliasReferencedByRule reports whether any non-deleted rule still
	// references the given alias id.
	AliasReferencedByRule(aliasID int64) bool
}

// ReferenceChecker validates that the entities a new rule/alias refers
// to actually exist, delegating to whichever packages own those
// entities (pkg/users, pkg/devices, pkg/network).
type ReferenceChecker interface {
	UsersExist(ids []int64) bool
	GroupsExist(ids []int64) bool
	DevicesExist(ids []int64) bool
	NetworksExist(ids []int64) bool
}

// MemStore is an in-memory Store, the equivalent of the teacher's
// storage.NewTestStorage() fixture, used by tests and suitable as a
// starting point for a future cache layer in front of pkg/db.
type MemStore struct {
	rules     map[int64]Rule
	aliases   map[int64]Alias
	nextRule  int64
	nextAlias int64
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{rules: map[int64]Rule{}, aliases: map[int64]Alias{}}
}

func (s *MemStore) NextRuleID() int64 {
	s.nextRule++
	return s.nextRule
}

func (s *MemStore) GetRule(id int64) (Rule, bool) {
	r, ok := s.rules[id]
	return r, ok
}

func (s *MemStore) PutRule(r Rule) { s.rules[r.ID] = r }

func (s *MemStore) DeleteRule(id int64) { delete(s.rules, id) }

func (s *MemStore) ChildOfRule(parentID int64) (Rule, bool) {
	for _, r := range s.rules {
		if r.ParentID != nil && *r.ParentID == parentID {
			return r, true
		}
	}
	return Rule{}, false
}

func (s *MemStore) NextAliasID() int64 {
	s.nextAlias++
	return s.nextAlias
}

func (s *MemStore) GetAlias(id int64) (Alias, bool) {
	a, ok := s.aliases[id]
	return a, ok
}

func (s *MemStore) PutAlias(a Alias) { s.aliases[a.ID] = a }

func (s *MemStore) DeleteAlias(id int64) { delete(s.aliases, id) }

func (s *MemStore) ChildOfAlias(parentID int64) (Alias, bool) {
	for _, a := range s.aliases {
		if a.ParentID != nil && *a.ParentID == parentID {
			return a, true
		}
	}
	return Alias{}, false
}

func (s *MemStore) AliasReferencedByRule(aliasID int64) bool {
	for _, r := range s.rules {
		if r.State == StateDeleted {
			continue
		}
		for _, id := range r.AliasIDs {
			if id == aliasID {
				return true
			}
		}
	}
	return false
}

var errNotFound = fmt.Errorf("not found")
