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
	"fmt"

	"github.com/defguard/core/pkg/network"
	"github.com/defguard/core/pkg/rangeset"
)

// UserSnatBinding is the §4.3 SNAT input: a user that should appear
// behind publicIP for traffic leaving a network.
type UserSnatBinding struct {
	UserID   int64
	PublicIP string
	IsV6     bool
}

// compileSnat fetches each bound user's device IPs of the matching
// family within net and emits a SnatBinding; bindings with no matching
// IPs are skipped per §4.3.
func (c *Compiler) compileSnat(net network.Network, bindings []UserSnatBinding, nextID *int64) []SnatBinding {
	var out []SnatBinding
	for _, b := range bindings {
		addrs := c.resolver.UserDeviceIPs([]int64{b.UserID}, net.ID, b.IsV6)
		if len(addrs) == 0 {
			continue
		}
		literals := rangeset.MergeAddrSet(addrs)
		srcAddrs := make([]string, len(literals))
		for i, l := range literals {
			srcAddrs[i] = l.String()
		}
		out = append(out, SnatBinding{
			ID:          *nextID,
			SourceAddrs: srcAddrs,
			PublicIP:    b.PublicIP,
			Comment:     fmt.Sprintf("snat user %d -> %s", b.UserID, b.PublicIP),
		})
		*nextID++
	}
	return out
}
