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

// Package firewall compiles ACL rules, aliases, and SNAT bindings into
// the deterministic, overlap-free FirewallConfig a gateway receives
// over the C7 RPC fabric (§4.3).
package firewall

import "github.com/defguard/core/pkg/rangeset"

// Verdict is the action a FirewallRule applies to matching traffic.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictDeny
)

// IPVersion selects the address family a rule applies to.
type IPVersion int

const (
	IPv4 IPVersion = iota
	IPv6
)

// Rule is the wire-exact FirewallRule shape gateways consume (§6).
type Rule struct {
	ID                 int64
	SourceAddrs        []string
	DestinationAddrs   []string
	DestinationPorts   []rangeset.Range[uint16]
	Protocols          []int
	Verdict            Verdict
	Comment            string
	IPVersion          IPVersion
}

// SnatBinding maps a set of source addresses to a public IP a gateway
// should NAT them behind.
type SnatBinding struct {
	ID          int64
	SourceAddrs []string
	PublicIP    string
	Comment     string
}

// Config is the compiled output for one network: a default policy, the
// ALLOW-block-then-DENY-block rule sequence, and SNAT bindings.
type Config struct {
	DefaultPolicy string // "allow" or "deny", mirrors network.AclPolicy
	Rules         []Rule
	SnatBindings  []SnatBinding
}
