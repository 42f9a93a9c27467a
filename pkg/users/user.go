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

// Package users models Defguard identities: the User and Group entities,
// MFA-method preference, username/password validation, and the
// last-admin invariant guarding group membership changes.
package users

import "time"

// MfaMethod is a user's preferred second factor.
type MfaMethod int

const (
	MfaMethodNone MfaMethod = iota
	MfaMethodTOTP
	MfaMethodWebAuthn
	MfaMethodEmail
)

// MfaState holds a user's configured second factors. mfa_enabled is
// derived, never stored independently: it is true iff any factor below
// is present.
type MfaState struct {
	TOTPEnabled     bool
	TOTPSecret      []byte
	EmailMfaEnabled bool
	EmailMfaSecret  []byte
	WebAuthnKeys    int // count of registered authenticator keys
	Preferred       MfaMethod
}

// Enabled reports the derived mfa_enabled flag.
func (m MfaState) Enabled() bool {
	return m.TOTPEnabled || m.EmailMfaEnabled || m.WebAuthnKeys > 0
}

// Validate enforces the invariant: mfa_enabled ⇔ some factor present;
// when disabled, Preferred must be None.
func (m MfaState) Validate() error {
	if !m.Enabled() && m.Preferred != MfaMethodNone {
		return errInvalidMfaState{"preferred method set while no factor is enabled"}
	}
	return nil
}

type errInvalidMfaState struct{ msg string }

func (e errInvalidMfaState) Error() string { return "invalid mfa state: " + e.msg }

// User is the core identity entity (§3).
type User struct {
	ID                int64
	Username          string
	Email             string
	FirstName         string
	LastName          string
	Phone             string
	Active            bool
	EnrollmentPending bool
	FromLDAP          bool
	LDAPRDN           string
	LDAPUserPath      string
	OpenIDSub         string
	PasswordHash      string
	MFA               MfaState
	RecoveryCodes     []RecoveryCode
	CreatedAt         time.Time
}

// RecoveryCode is a single-use 16-character alphanumeric backup code.
type RecoveryCode struct {
	Code string
	Used bool
}

// Enrolled reports whether a user has completed enrollment: not
// pending, and has at least one way to authenticate (password, OIDC,
// or LDAP-managed).
func (u User) Enrolled() bool {
	return !u.EnrollmentPending && (u.PasswordHash != "" || u.OpenIDSub != "" || u.FromLDAP)
}

// FallbackMfaMethod implements the §9 open question: when a user's
// preferred method is no longer available, pick the first available
// method in priority order TOTP > WebAuthn > Email, or None.
func (m MfaState) FallbackMfaMethod() MfaMethod {
	switch {
	case m.TOTPEnabled:
		return MfaMethodTOTP
	case m.WebAuthnKeys > 0:
		return MfaMethodWebAuthn
	case m.EmailMfaEnabled:
		return MfaMethodEmail
	default:
		return MfaMethodNone
	}
}

// ReconcilePreferredMethod applies the fallback rule whenever the
// currently preferred method is no longer provisioned.
func (m *MfaState) ReconcilePreferredMethod() {
	switch m.Preferred {
	case MfaMethodTOTP:
		if m.TOTPEnabled {
			return
		}
	case MfaMethodWebAuthn:
		if m.WebAuthnKeys > 0 {
			return
		}
	case MfaMethodEmail:
		if m.EmailMfaEnabled {
			return
		}
	case MfaMethodNone:
		if !m.Enabled() {
			return
		}
	}
	m.Preferred = m.FallbackMfaMethod()
}

// Group is a named collection of users; is_admin groups grant
// administrative rights to their members.
type Group struct {
	ID      int64
	Name    string
	IsAdmin bool
}
