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

// Package acl implements the ACL rule/alias store and its revision-chain
// lifecycle (§4.2): create/update/delete produce New/Modified/Deleted
// child rows against an Applied parent, and apply() promotes or
// destroys them one rule id at a time; the package opens no database
// transaction of its own.
package acl

import (
	"time"

	"github.com/defguard/core/pkg/rangeset"
)

// State is a rule or alias's position in the revision chain.
type State int

const (
	StateNew State = iota
	StateApplied
	StateModified
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateApplied:
		return "applied"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// AliasKind distinguishes a pure destination alias from a component
// alias that also carries ports/protocols.
type AliasKind int

const (
	AliasKindDestination AliasKind = iota
	AliasKindComponent
)

// Selector bundles an allow and a deny set for one dimension (users,
// groups, or devices) of a rule's source, plus the allow-all/deny-all
// shortcuts used when the admin wants "everyone" or "no one" without
// enumerating rows.
type Selector struct {
	Allowed  []int64
	Denied   []int64
	AllowAll bool
	DenyAll  bool
}

// Rule is the §3 AclRule entity.
type Rule struct {
	ID          int64
	ParentID    *int64
	State       State
	Name        string
	Enabled     bool
	Expires     *time.Time
	NetworkIDs  []int64
	AllNetworks bool

	Users   Selector
	Groups  Selector
	Devices Selector

	Destinations []string // parsed via ParseDestinations before storage
	Ports        []rangeset.Range[uint16]
	Protocols    []int

	AliasIDs []int64
}

// Alias is the §3 AclAlias entity.
type Alias struct {
	ID       int64
	ParentID *int64
	State    State
	Name     string
	Kind     AliasKind

	Destinations []string
	Ports        []rangeset.Range[uint16]
	Protocols    []int
}

// TargetsNetwork reports whether the rule applies to the given network,
// honoring the all_networks shortcut.
func (r Rule) TargetsNetwork(networkID int64) bool {
	if r.AllNetworks {
		return true
	}
	for _, id := range r.NetworkIDs {
		if id == networkID {
			return true
		}
	}
	return false
}
