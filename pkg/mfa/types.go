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

package mfa

import (
	"time"

	"github.com/defguard/core/pkg/network"
)

// Method is the second factor a desktop client is attempting, per §4.8.
type Method int

const (
	MethodNone Method = iota
	MethodTOTP
	MethodEmail
	MethodBiometric
	MethodMobileApprove
	MethodOIDC
)

// SessionTimeout is the §4.8/§6 5-minute JWT/session lifetime.
const SessionTimeout = 5 * time.Minute

// Session is one desktop client's in-flight handshake, keyed by its
// WireGuard public key. Process-local and non-persistent, owned
// exclusively by the C8 server task that runs start/finish (§5).
type Session struct {
	Method             Method
	LocationID         int64
	DeviceID           int64
	UserID             int64
	Pubkey             string
	OIDCAuthCompleted  bool
	BiometricChallenge []byte
	CreatedAt          time.Time
}

func (s Session) expired(now time.Time) bool {
	return now.Sub(s.CreatedAt) > SessionTimeout
}

// compatibleWithLocationMode implements the §4.8 start-contract rule 1:
// Internal mode allows TOTP/Email/Biometric/MobileApprove; External
// allows only OIDC.
func compatibleWithLocationMode(mode network.MfaMode, method Method) bool {
	switch mode {
	case network.MfaModeInternal:
		return method != MethodOIDC && method != MethodNone
	case network.MfaModeExternal:
		return method == MethodOIDC
	default:
		return false
	}
}
