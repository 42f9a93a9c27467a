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

import (
	"fmt"
	"log/slog"
)

// Service implements the §4.2 public operations against a Store. It
// holds no state of its own beyond the logger, matching the teacher's
// services/* handlers which are thin wrappers over a store.
type Service struct {
	store Store
	refs  ReferenceChecker
	log   *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, refs ReferenceChecker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, refs: refs, log: log.With("component", "acl")}
}

func (s *Service) checkReferences(r Rule) error {
	if s.refs == nil {
		return nil
	}
	if len(r.Users.Allowed) > 0 && !s.refs.UsersExist(r.Users.Allowed) {
		return ErrUnprocessable{"referenced user does not exist"}
	}
	if len(r.Users.Denied) > 0 && !s.refs.UsersExist(r.Users.Denied) {
		return ErrUnprocessable{"referenced user does not exist"}
	}
	if len(r.Groups.Allowed) > 0 && !s.refs.GroupsExist(r.Groups.Allowed) {
		return ErrUnprocessable{"referenced group does not exist"}
	}
	if len(r.Groups.Denied) > 0 && !s.refs.GroupsExist(r.Groups.Denied) {
		return ErrUnprocessable{"referenced group does not exist"}
	}
	if len(r.Devices.Allowed) > 0 && !s.refs.DevicesExist(r.Devices.Allowed) {
		return ErrUnprocessable{"referenced device does not exist"}
	}
	if len(r.Devices.Denied) > 0 && !s.refs.DevicesExist(r.Devices.Denied) {
		return ErrUnprocessable{"referenced device does not exist"}
	}
	if !r.AllNetworks && len(r.NetworkIDs) > 0 && !s.refs.NetworksExist(r.NetworkIDs) {
		return ErrUnprocessable{"referenced network does not exist"}
	}
	for _, aliasID := range r.AliasIDs {
		alias, ok := s.store.GetAlias(aliasID)
		if !ok {
			return ErrUnprocessable{fmt.Sprintf("referenced alias %d does not exist", aliasID)}
		}
		if alias.State != StateApplied {
			return ErrUnprocessable{fmt.Sprintf("referenced alias %d is not applied", aliasID)}
		}
	}
	return nil
}

// CreateRule validates and inserts a new rule in state New.
func (s *Service) CreateRule(r Rule) (Rule, error) {
	if err := ValidateProtocols(r.Protocols); err != nil {
		return Rule{}, err
	}
	if err := s.checkReferences(r); err != nil {
		return Rule{}, err
	}
	r.ID = s.store.NextRuleID()
	r.ParentID = nil
	r.State = StateNew
	s.store.PutRule(r)
	return r, nil
}

// UpdateRule applies the §4.2 update-rule transition: in-place if the
// target is New or Modified, otherwise a Modified child is created
// against the Applied parent, replacing any existing child.
func (s *Service) UpdateRule(id int64, apply func(*Rule)) (Rule, error) {
	target, ok := s.store.GetRule(id)
	if !ok {
		return Rule{}, fmt.Errorf("rule %d: %w", id, errNotFound)
	}

	switch target.State {
	case StateNew, StateModified:
		apply(&target)
		s.store.PutRule(target)
		return target, nil
	case StateApplied:
		if child, ok := s.store.ChildOfRule(id); ok {
			s.store.DeleteRule(child.ID)
		}
		child := target
		apply(&child)
		child.ID = s.store.NextRuleID()
		parent := id
		child.ParentID = &parent
		child.State = StateModified
		s.store.PutRule(child)
		return child, nil
	default:
		return Rule{}, fmt.Errorf("rule %d: cannot update a rule in state %s", id, target.State)
	}
}

// DeleteRule applies the §4.2 delete-rule transition: hard-delete if
// New, otherwise a Deleted child replacing any existing child.
func (s *Service) DeleteRule(id int64) error {
	target, ok := s.store.GetRule(id)
	if !ok {
		return fmt.Errorf("rule %d: %w", id, errNotFound)
	}
	if target.State == StateDeleted {
		return fmt.Errorf("rule %d already deleted", id)
	}
	if target.State == StateNew {
		s.store.DeleteRule(id)
		return nil
	}

	if child, ok := s.store.ChildOfRule(id); ok {
		s.store.DeleteRule(child.ID)
	}
	child := target
	child.ID = s.store.NextRuleID()
	parent := id
	child.ParentID = &parent
	child.State = StateDeleted
	s.store.PutRule(child)
	return nil
}

// CreateAlias inserts a new alias directly in state Applied; aliases
// have no New state (§4.2).
func (s *Service) CreateAlias(a Alias) (Alias, error) {
	if err := ValidateProtocols(a.Protocols); err != nil {
		return Alias{}, err
	}
	a.ID = s.store.NextAliasID()
	a.ParentID = nil
	a.State = StateApplied
	s.store.PutAlias(a)
	return a, nil
}

// UpdateAlias creates or replaces a Modified child against an Applied
// or Modified alias.
func (s *Service) UpdateAlias(id int64, apply func(*Alias)) (Alias, error) {
	target, ok := s.store.GetAlias(id)
	if !ok {
		return Alias{}, fmt.Errorf("alias %d: %w", id, errNotFound)
	}
	if target.State != StateApplied && target.State != StateModified {
		return Alias{}, fmt.Errorf("alias %d: cannot update alias in state %s", id, target.State)
	}

	if target.State == StateModified {
		apply(&target)
		s.store.PutAlias(target)
		return target, nil
	}

	if child, ok := s.store.ChildOfAlias(id); ok {
		s.store.DeleteAlias(child.ID)
	}
	child := target
	apply(&child)
	child.ID = s.store.NextAliasID()
	parent := id
	child.ParentID = &parent
	child.State = StateModified
	s.store.PutAlias(child)
	return child, nil
}

// DeleteAlias deletes an alias, refusing if it is still referenced by
// any non-deleted rule.
func (s *Service) DeleteAlias(id int64) error {
	target, ok := s.store.GetAlias(id)
	if !ok {
		return fmt.Errorf("alias %d: %w", id, errNotFound)
	}
	if target.State == StateDeleted {
		return fmt.Errorf("alias %d already deleted", id)
	}
	if s.store.AliasReferencedByRule(id) {
		return ErrUnprocessable{fmt.Sprintf("alias %d is still referenced by a rule", id)}
	}

	if child, ok := s.store.ChildOfAlias(id); ok {
		s.store.DeleteAlias(child.ID)
	}
	child := target
	child.ID = s.store.NextAliasID()
	parent := id
	child.ParentID = &parent
	child.State = StateDeleted
	s.store.PutAlias(child)
	return nil
}

// Apply promotes or destroys each id's row per the §4.2 apply table.
// Every id must currently be in state New, Modified, or Deleted; each
// id is applied independently so a caller that wants atomicity across
// the whole batch must wrap the call in a DB transaction (§5).
func (s *Service) Apply(ruleIDs []int64) error {
	for _, id := range ruleIDs {
		if err := s.applyOne(id); err != nil {
			return fmt.Errorf("apply rule %d: %w", id, err)
		}
	}
	return nil
}

func (s *Service) applyOne(id int64) error {
	r, ok := s.store.GetRule(id)
	if !ok {
		return fmt.Errorf("rule %d: %w", id, errNotFound)
	}
	switch r.State {
	case StateNew:
		r.State = StateApplied
		s.store.PutRule(r)
		return nil
	case StateModified:
		if r.ParentID == nil {
			return fmt.Errorf("modified rule %d missing parent_id", id)
		}
		parentID := *r.ParentID
		r.ParentID = nil
		r.State = StateApplied
		s.store.DeleteRule(parentID)
		s.store.PutRule(r)
		return nil
	case StateDeleted:
		if r.ParentID != nil {
			s.store.DeleteRule(*r.ParentID)
		}
		s.store.DeleteRule(id)
		return nil
	default:
		return fmt.Errorf("rule %d in state %s cannot be applied", id, r.State)
	}
}
