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
	"log/slog"

	"github.com/defguard/core/pkg/acl"
	"github.com/defguard/core/pkg/network"
	"github.com/defguard/core/pkg/rangeset"
)

// LicenseChecker mirrors network.LicenseChecker; the compiler needs it
// to fail closed on service-location mode per the §4.3 invariant.
type LicenseChecker interface {
	Active() bool
}

// Compiler materializes Applied ACL rules and aliases into a Config for
// one network.
type Compiler struct {
	resolver MembershipResolver
	log      *slog.Logger
}

// NewCompiler constructs a Compiler.
func NewCompiler(resolver MembershipResolver, log *slog.Logger) *Compiler {
	if log == nil {
		log = slog.Default()
	}
	return &Compiler{resolver: resolver, log: log.With("component", "firewall_compiler")}
}

// Compile runs §4.3 over every Applied rule that targets net, using
// aliases (keyed by id) to resolve AliasIDs, and returns the emitted
// config. snatBindings are processed independently per §4.3's SNAT
// section.
func (c *Compiler) Compile(net network.Network, rules []acl.Rule, aliases map[int64]acl.Alias, snatBindings []UserSnatBinding, lic LicenseChecker) (Config, error) {
	cfg := Config{DefaultPolicy: policyString(net.AclDefaultPolicy)}

	if net.ServiceLocation && (lic == nil || !lic.Active()) {
		// Fail closed: no rules, no peers derivable from this config.
		c.log.Warn("service-location network with inactive license yields empty config", "network_id", net.ID)
		return cfg, nil
	}

	var allow, deny []Rule
	var nextID int64 = 1

	for _, r := range rules {
		if r.State != acl.StateApplied || !r.Enabled || !r.TargetsNetwork(net.ID) {
			continue
		}

		userIDs := sourceUserSet(r, c.resolver)
		deviceIDs := sourceNetworkDeviceSet(r, c.resolver)

		destAliases, componentPorts, componentProtocols, componentDests := c.splitAliases(r.AliasIDs, aliases)

		ports := rangeset.MergePorts(append(append([]rangeset.Range[uint16]{}, r.Ports...), componentPorts...))
		protocols := mergeProtocols(r.Protocols, componentProtocols)
		destinations := append(append([]string{}, r.Destinations...), componentDests...)

		for _, v6 := range []bool{false, true} {
			if _, ok := net.SubnetForFamily(v6); !ok {
				continue
			}
			a, d := c.compileOneFamily(net.ID, userIDs, deviceIDs, destinations, ports, protocols, v6, r.Name, &nextID)
			if a != nil {
				allow = append(allow, *a)
			}
			deny = append(deny, *d)
		}

		for _, aliasID := range destAliases {
			alias := aliases[aliasID]
			for _, v6 := range []bool{false, true} {
				if _, ok := net.SubnetForFamily(v6); !ok {
					continue
				}
				a, d := c.compileAliasFamily(net.ID, userIDs, deviceIDs, alias, v6, r.Name, &nextID)
				if a != nil {
					allow = append(allow, *a)
				}
				deny = append(deny, *d)
			}
		}
	}

	// ALLOW block first, then DENY block (§4.3 output contract).
	cfg.Rules = append(cfg.Rules, allow...)
	cfg.Rules = append(cfg.Rules, deny...)
	cfg.SnatBindings = c.compileSnat(net, snatBindings, &nextID)
	return cfg, nil
}

func (c *Compiler) compileOneFamily(networkID int64, userIDs, deviceIDs []int64, destinations []string, ports []rangeset.Range[uint16], protocols []int, v6 bool, ruleName string, nextID *int64) (allow, deny *Rule) {
	srcAddrs := c.sourceAddrStrings(userIDs, deviceIDs, networkID, v6)
	ipv := IPv4
	if v6 {
		ipv = IPv6
	}

	if len(srcAddrs) > 0 {
		a := Rule{
			ID:               *nextID,
			SourceAddrs:      srcAddrs,
			DestinationAddrs: destinations,
			DestinationPorts: ports,
			Protocols:        protocols,
			Verdict:          VerdictAllow,
			Comment:          fmt.Sprintf("rule %q", ruleName),
			IPVersion:        ipv,
		}
		*nextID++
		allow = &a
	}

	d := Rule{
		ID:               *nextID,
		DestinationAddrs: destinations,
		Verdict:          VerdictDeny,
		Comment:          fmt.Sprintf("rule %q", ruleName),
		IPVersion:        ipv,
	}
	*nextID++
	deny = &d
	return allow, deny
}

func (c *Compiler) compileAliasFamily(networkID int64, userIDs, deviceIDs []int64, alias acl.Alias, v6 bool, ruleName string, nextID *int64) (allow, deny *Rule) {
	srcAddrs := c.sourceAddrStrings(userIDs, deviceIDs, networkID, v6)
	ipv := IPv4
	if v6 {
		ipv = IPv6
	}
	comment := fmt.Sprintf("rule %q alias %q", ruleName, alias.Name)

	if len(srcAddrs) > 0 {
		a := Rule{
			ID:               alias.ID,
			SourceAddrs:      srcAddrs,
			DestinationAddrs: alias.Destinations,
			DestinationPorts: alias.Ports,
			Protocols:        alias.Protocols,
			Verdict:          VerdictAllow,
			Comment:          comment,
			IPVersion:        ipv,
		}
		allow = &a
	}
	d := Rule{
		ID:               alias.ID,
		DestinationAddrs: alias.Destinations,
		Verdict:          VerdictDeny,
		Comment:          comment,
		IPVersion:        ipv,
	}
	deny = &d
	*nextID++
	return allow, deny
}

func (c *Compiler) sourceAddrStrings(userIDs, deviceIDs []int64, networkID int64, v6 bool) []string {
	addrs := append(
		c.resolver.UserDeviceIPs(userIDs, networkID, v6),
		c.resolver.NetworkDeviceIPs(deviceIDs, networkID, v6)...,
	)
	if len(addrs) == 0 {
		return nil
	}
	literals := rangeset.MergeAddrSet(addrs)
	out := make([]string, len(literals))
	for i, l := range literals {
		out[i] = l.String()
	}
	return out
}

// splitAliases separates a rule's alias references into Destination
// aliases (emitted as their own rule sets) and Component aliases
// (merged into the rule's own ports/protocols/destinations), per §4.3
// step 5.
func (c *Compiler) splitAliases(aliasIDs []int64, aliases map[int64]acl.Alias) (destinationAliasIDs []int64, ports []rangeset.Range[uint16], protocols []int, destinations []string) {
	for _, id := range aliasIDs {
		alias, ok := aliases[id]
		if !ok || alias.State != acl.StateApplied {
			continue
		}
		switch alias.Kind {
		case acl.AliasKindDestination:
			destinationAliasIDs = append(destinationAliasIDs, id)
		case acl.AliasKindComponent:
			ports = append(ports, alias.Ports...)
			protocols = append(protocols, alias.Protocols...)
			destinations = append(destinations, alias.Destinations...)
		}
	}
	return destinationAliasIDs, ports, protocols, destinations
}

func mergeProtocols(a, b []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, p := range append(append([]int{}, a...), b...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func policyString(p network.AclPolicy) string {
	if p == network.AclPolicyDeny {
		return "deny"
	}
	return "allow"
}
