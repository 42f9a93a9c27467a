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

package users

import "testing"

func TestValidateUsername(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"simple", "jdoe", false},
		{"dots and dashes", "j.doe-2", false},
		{"leading dot invalid", ".jdoe", true},
		{"empty", "", true},
		{"too long", string(make([]byte, 64)), true},
		{"space invalid", "j doe", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateUsername(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateUsername(%q) err=%v, wantErr=%v", tc.in, err, tc.wantErr)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", "Abcdef1!", false},
		{"too short", "Ab1!", true},
		{"no upper", "abcdef1!", true},
		{"no digit", "Abcdefg!", true},
		{"no punct", "Abcdefg1", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidatePassword(%q) err=%v, wantErr=%v", tc.in, err, tc.wantErr)
			}
		})
	}
}

func TestPruneUsername(t *testing.T) {
	got := PruneUsername("jane.doe@example.com", UsernameRemoveDomain)
	if err := ValidateUsername(got); err != nil {
		t.Fatalf("PruneUsername produced invalid username %q: %v", got, err)
	}
	if got != "jane.doe" {
		t.Fatalf("got %q, want jane.doe", got)
	}
}

func TestMfaStateFallback(t *testing.T) {
	m := MfaState{EmailMfaEnabled: true, Preferred: MfaMethodTOTP}
	m.ReconcilePreferredMethod()
	if m.Preferred != MfaMethodEmail {
		t.Fatalf("expected fallback to Email, got %v", m.Preferred)
	}
}

func TestAdminGuardRefusesLastAdmin(t *testing.T) {
	g := NewAdminGuard(1, nil)
	if g.Allow(1, "admin@example.com") {
		t.Fatalf("expected last admin removal to be refused")
	}
}

func TestAdminGuardAllowsWhenMultiple(t *testing.T) {
	g := NewAdminGuard(2, nil)
	if !g.Allow(1, "a@example.com") {
		t.Fatalf("expected first removal to be allowed")
	}
	if g.Allow(2, "b@example.com") {
		t.Fatalf("expected second removal (now last admin) to be refused")
	}
}
