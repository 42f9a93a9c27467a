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

package network

import (
	"net/netip"
	"testing"
)

type fakeLicense struct{ active bool }

func (f fakeLicense) Active() bool { return f.active }

func validNetwork() Network {
	return Network{
		ID:      1,
		Name:    "office",
		Subnets: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")},
	}
}

func TestValidateRequiresSubnet(t *testing.T) {
	n := validNetwork()
	n.Subnets = nil
	if err := n.Validate(nil, false); err == nil {
		t.Fatalf("expected error for no subnets")
	}
}

func TestValidateExternalMfaRequiresLicenseAndOidc(t *testing.T) {
	n := validNetwork()
	n.MfaMode = MfaModeExternal
	if err := n.Validate(fakeLicense{active: false}, true); err == nil {
		t.Fatalf("expected error without active license")
	}
	if err := n.Validate(fakeLicense{active: true}, false); err == nil {
		t.Fatalf("expected error without configured oidc provider")
	}
	if err := n.Validate(fakeLicense{active: true}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateServiceLocationExclusiveWithMfa(t *testing.T) {
	n := validNetwork()
	n.ServiceLocation = true
	n.MfaMode = MfaModeInternal
	if err := n.Validate(nil, false); err == nil {
		t.Fatalf("expected error combining service-location with MFA")
	}
}

func TestSubnetForFamily(t *testing.T) {
	n := validNetwork()
	n.Subnets = append(n.Subnets, netip.MustParsePrefix("fd00::/64"))
	if _, ok := n.SubnetForFamily(false); !ok {
		t.Fatalf("expected an ipv4 subnet")
	}
	if _, ok := n.SubnetForFamily(true); !ok {
		t.Fatalf("expected an ipv6 subnet")
	}
}
