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

// Package devices models WireGuard-attached devices: user devices (a
// person's laptop/phone) and network devices (a site-to-site peer), the
// per-network attachment record that tracks assigned IPs and MFA
// authorization, and PSK issuance.
package devices

import (
	"fmt"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Type distinguishes a per-user device from a network (site-to-site)
// peer device.
type Type int

const (
	TypeUser Type = iota
	TypeNetwork
)

// Device is the §3 Device entity.
type Device struct {
	ID         int64
	Name       string
	PublicKey  wgtypes.Key
	OwnerID    int64
	Type       Type
	CreatedAt  time.Time
	Configured bool
}

// ParsePublicKey validates a base64 WireGuard public key, mirroring the
// key handling the teacher's net manager performs before admitting a
// peer.
func ParsePublicKey(s string) (wgtypes.Key, error) {
	key, err := wgtypes.ParseKey(s)
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("invalid WireGuard public key: %w", err)
	}
	return key, nil
}

// NetworkAttachment is the §3 WireguardNetworkDevice entity: the
// per-(device, network) record.
type NetworkAttachment struct {
	DeviceID      int64
	NetworkID     int64
	AssignedIPs   []string
	PresharedKey  *wgtypes.Key
	IsAuthorized  bool
	AuthorizedAt  *time.Time
}

// Authorize marks the attachment authorized and issues a fresh PSK, as
// the MFA finish contract (§4.8) requires: a new preshared key is
// generated on every successful MFA handshake, not reused.
func (a *NetworkAttachment) Authorize(now time.Time) (wgtypes.Key, error) {
	psk, err := wgtypes.GenerateKey()
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("generate preshared key: %w", err)
	}
	a.PresharedKey = &psk
	a.IsAuthorized = true
	t := now
	a.AuthorizedAt = &t
	return psk, nil
}
