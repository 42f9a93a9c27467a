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
	"reflect"
	"testing"

	"github.com/defguard/core/pkg/acl"
	"github.com/defguard/core/pkg/network"
	"github.com/defguard/core/pkg/rangeset"
)

type fakeResolver struct {
	users          []int64
	groups         map[int64][]int64
	userDevices    map[int64][]netip.Addr
	networkDevices []int64
}

func (f *fakeResolver) AllActiveUserIDs() []int64 { return f.users }
func (f *fakeResolver) AllGroupIDs() []int64 {
	var ids []int64
	for g := range f.groups {
		ids = append(ids, g)
	}
	return ids
}
func (f *fakeResolver) GroupMembers(groupID int64) []int64 { return f.groups[groupID] }
func (f *fakeResolver) AllNetworkDeviceIDs() []int64        { return f.networkDevices }

func (f *fakeResolver) UserDeviceIPs(userIDs []int64, networkID int64, v6 bool) []netip.Addr {
	var out []netip.Addr
	for _, uid := range userIDs {
		for _, a := range f.userDevices[uid] {
			if a.Is6() == v6 {
				out = append(out, a)
			}
		}
	}
	return out
}

func (f *fakeResolver) NetworkDeviceIPs(deviceIDs []int64, networkID int64, v6 bool) []netip.Addr {
	return nil
}

func testNetwork() network.Network {
	return network.Network{
		ID:      1,
		Subnets: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")},
	}
}

func TestCompileAllowThenDeny(t *testing.T) {
	resolver := &fakeResolver{
		users: []int64{1},
		userDevices: map[int64][]netip.Addr{
			1: {netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.0.6")},
		},
	}
	c := NewCompiler(resolver, nil)

	rule := acl.Rule{
		ID:           10,
		State:        acl.StateApplied,
		Enabled:      true,
		AllNetworks:  true,
		Name:         "web-access",
		Users:        acl.Selector{Allowed: []int64{1}},
		Destinations: []string{"10.0.0.0/24", "10.1.0.0/16"},
		Ports:        []rangeset.Range[uint16]{{Start: 22, End: 22}, {Start: 80, End: 90}},
		Protocols:    []int{6},
	}

	cfg, err := c.Compile(testNetwork(), []acl.Rule{rule}, nil, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("expected exactly 2 rules (1 allow + 1 deny, ipv4 only), got %d: %+v", len(cfg.Rules), cfg.Rules)
	}
	if cfg.Rules[0].Verdict != VerdictAllow {
		t.Fatalf("expected ALLOW rule first, got %+v", cfg.Rules[0])
	}
	if cfg.Rules[1].Verdict != VerdictDeny {
		t.Fatalf("expected DENY rule second, got %+v", cfg.Rules[1])
	}
	if !reflect.DeepEqual(cfg.Rules[0].DestinationAddrs, cfg.Rules[1].DestinationAddrs) {
		t.Fatalf("ALLOW and DENY must share the same destination set")
	}
	if len(cfg.Rules[1].SourceAddrs) != 0 || len(cfg.Rules[1].Protocols) != 0 {
		t.Fatalf("DENY rule must carry empty source/protocols, got %+v", cfg.Rules[1])
	}
	if len(cfg.Rules[0].SourceAddrs) == 0 {
		t.Fatalf("ALLOW rule must carry the merged source address list")
	}
}

func TestCompileNoSourceEmitsOnlyDeny(t *testing.T) {
	resolver := &fakeResolver{users: []int64{1}}
	c := NewCompiler(resolver, nil)

	rule := acl.Rule{
		ID:           10,
		State:        acl.StateApplied,
		Enabled:      true,
		AllNetworks:  true,
		Name:         "no-match",
		Users:        acl.Selector{Allowed: []int64{99}}, // no devices for this user
		Destinations: []string{"10.0.0.0/24"},
	}
	cfg, err := c.Compile(testNetwork(), []acl.Rule{rule}, nil, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, r := range cfg.Rules {
		if r.Verdict == VerdictAllow {
			t.Fatalf("expected no ALLOW rule when source list is empty, got %+v", cfg.Rules)
		}
	}
	if len(cfg.Rules) != 1 {
		t.Fatalf("expected exactly 1 DENY rule, got %d", len(cfg.Rules))
	}
}

type fakeLicense struct{ active bool }

func (f fakeLicense) Active() bool { return f.active }

func TestCompileServiceLocationInactiveLicenseYieldsEmpty(t *testing.T) {
	resolver := &fakeResolver{users: []int64{1}}
	c := NewCompiler(resolver, nil)

	net := testNetwork()
	net.ServiceLocation = true

	rule := acl.Rule{State: acl.StateApplied, Enabled: true, AllNetworks: true, Users: acl.Selector{AllowAll: true}}
	cfg, err := c.Compile(net, []acl.Rule{rule}, nil, nil, fakeLicense{active: false})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(cfg.Rules) != 0 {
		t.Fatalf("expected empty rule set for inactive-license service-location network, got %d", len(cfg.Rules))
	}
}

func TestCompileDeterministic(t *testing.T) {
	resolver := &fakeResolver{
		users:       []int64{1},
		userDevices: map[int64][]netip.Addr{1: {netip.MustParseAddr("10.0.0.5")}},
	}
	c := NewCompiler(resolver, nil)
	rule := acl.Rule{
		ID: 1, State: acl.StateApplied, Enabled: true, AllNetworks: true,
		Users: acl.Selector{Allowed: []int64{1}}, Destinations: []string{"10.0.0.0/24"},
	}
	cfg1, _ := c.Compile(testNetwork(), []acl.Rule{rule}, nil, nil, nil)
	cfg2, _ := c.Compile(testNetwork(), []acl.Rule{rule}, nil, nil, nil)
	if !reflect.DeepEqual(cfg1, cfg2) {
		t.Fatalf("expected deterministic output for identical input")
	}
}
