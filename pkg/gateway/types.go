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

// Package gateway implements the gateway RPC fabric (§4.7): a
// supervised, reconnecting bidirectional stream per gateway that fans
// out core events as Update messages, ingests peer-stats reports, and
// tracks per-peer connected state against the location's disconnect
// threshold.
package gateway

import (
	"time"

	"github.com/defguard/core/pkg/firewall"
)

// Peer is the wire-exact §6 Peer message.
type Peer struct {
	Pubkey             string
	AllowedIPs         []string
	PresharedKey       string
	HasPresharedKey    bool
	KeepaliveInterval  *uint32
}

// Network is the peer-list-bearing payload of a NetworkCreated/Modified
// update: the location's own WireGuard parameters plus the full peer
// snapshot computed before commit (§5 "Ordering guarantees").
type Network struct {
	Name    string
	Prvkey  string
	Address []string
	Port    uint32
	Peers   []Peer
	MTU     uint32
	FwMark  uint32
}

// FirewallConfig is the wire payload carrying a compiled firewall.Config
// to a gateway.
type FirewallConfig struct {
	DefaultPolicy string
	Rules         []firewall.Rule
	SnatBindings  []firewall.SnatBinding
}

// UpdateType is the §6 Update.update_type tag.
type UpdateType int

const (
	UpdateCreate UpdateType = 0
	UpdateModify UpdateType = 1
	UpdateDelete UpdateType = 2
)

// PayloadKind discriminates the Update.update one_of.
type PayloadKind int

const (
	PayloadNetwork PayloadKind = iota
	PayloadPeer
	PayloadFirewallConfig
	PayloadDisableFirewall
)

// Update is the §6 wire-exact Update message: a tagged union over
// {Network, Peer, FirewallConfig, DisableFirewall}.
type Update struct {
	Type           UpdateType
	Kind           PayloadKind
	Network        *Network
	Peer           *Peer
	FirewallConfig *FirewallConfig
}

// PeerStats is what a gateway reports back for one peer it manages.
type PeerStats struct {
	Pubkey         string
	LatestHandshake time.Time
}
