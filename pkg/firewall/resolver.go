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

package firewall

import (
	"net/netip"

	"github.com/defguard/core/pkg/acl"
)

// MembershipResolver answers the group-expansion and device-IP
// questions the compiler needs; pkg/db does not implement it.
type MembershipResolver interface {
	AllActiveUserIDs() []int64
	AllGroupIDs() []int64
	GroupMembers(groupID int64) []int64
	// AllNetworkDeviceIDs returns every Network-type device id, the
	// universe a rule's Devices selector's AllowAll flag expands to.
	AllNetworkDeviceIDs() []int64

	// UserDeviceIPs returns the IPs, within networkID and of the given
	// family, of User-type devices owned by any of userIDs.
	UserDeviceIPs(userIDs []int64, networkID int64, v6 bool) []netip.Addr
	// NetworkDeviceIPs returns the IPs, within networkID and of the
	// given family, of the Network-type devices in deviceIDs.
	NetworkDeviceIPs(deviceIDs []int64, networkID int64, v6 bool) []netip.Addr
}

// resolveSelector applies a Selector's allow/deny + allow-all/deny-all
// flags over a universe of ids, returning the resulting set.
func resolveSelector(sel acl.Selector, universe []int64) map[int64]bool {
	out := map[int64]bool{}
	if sel.DenyAll {
		return out
	}
	if sel.AllowAll {
		for _, id := range universe {
			out[id] = true
		}
	} else {
		for _, id := range sel.Allowed {
			out[id] = true
		}
	}
	for _, id := range sel.Denied {
		delete(out, id)
	}
	return out
}

// sourceUserSet computes the §4.3 step-1 source user set: users
// selected directly or through an allowed group, minus any explicitly
// denied user. Explicit user-level denial always wins over group
// membership, since an admin denying a specific user is a more
// specific statement than the group grant.
func sourceUserSet(r acl.Rule, mr MembershipResolver) []int64 {
	selected := resolveSelector(r.Users, mr.AllActiveUserIDs())

	groupIDs := resolveSelector(r.Groups, mr.AllGroupIDs())
	for gid := range groupIDs {
		for _, uid := range mr.GroupMembers(gid) {
			selected[uid] = true
		}
	}

	for _, uid := range r.Users.Denied {
		delete(selected, uid)
	}

	ids := make([]int64, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	return ids
}

// sourceNetworkDeviceSet computes the §4.3 step-3 source
// network-devices set directly from the rule's Devices selector; there
// is no group-expansion step for network devices, so AllowAll expands
// to every Network-type device rather than just the explicit list.
func sourceNetworkDeviceSet(r acl.Rule, mr MembershipResolver) []int64 {
	resolved := resolveSelector(r.Devices, mr.AllNetworkDeviceIDs())
	ids := make([]int64, 0, len(resolved))
	for id := range resolved {
		ids = append(ids, id)
	}
	return ids
}
