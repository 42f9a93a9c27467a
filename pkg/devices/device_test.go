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

package devices

import (
	"testing"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePublicKey("not-a-key"); err == nil {
		t.Fatalf("expected error for invalid key")
	}
}

func TestParsePublicKeyAcceptsGenerated(t *testing.T) {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub := key.PublicKey()
	parsed, err := ParsePublicKey(pub.String())
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if parsed != pub {
		t.Fatalf("round-tripped key mismatch")
	}
}

func TestAuthorizeIssuesFreshPSK(t *testing.T) {
	a := &NetworkAttachment{DeviceID: 1, NetworkID: 1}
	psk1, err := a.Authorize(time.Now())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !a.IsAuthorized || a.AuthorizedAt == nil {
		t.Fatalf("expected attachment to be marked authorized")
	}
	psk2, err := a.Authorize(time.Now())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if psk1 == psk2 {
		t.Fatalf("expected a fresh PSK on every authorization")
	}
}
