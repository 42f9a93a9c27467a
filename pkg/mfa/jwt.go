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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// desktopClientClaims is the §6 desktop-client MFA session JWT: a
// short-lived token naming the WireGuard public key the session was
// started for, so Finish can recover the session without a client-
// supplied session id.
type desktopClientClaims struct {
	jwt.RegisteredClaims
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

// JWTIssuer signs and parses desktop-client MFA session tokens with a
// single HMAC key, the same pattern the directory provider's google
// package uses for golang-jwt/jwt/v5, applied here to an HS256 session
// token instead of a verified third-party id token.
type JWTIssuer struct {
	key []byte
}

// NewJWTIssuer constructs a JWTIssuer from a signing key. The key
// should come from config.MFAOptions.JWTSigningKey.
func NewJWTIssuer(key []byte) *JWTIssuer {
	return &JWTIssuer{key: key}
}

// Issue mints a token naming pubkey, valid for SessionTimeout.
func (j *JWTIssuer) Issue(pubkey string) (string, error) {
	now := time.Now()
	claims := desktopClientClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTimeout)),
		},
		Type:     "DesktopClient",
		ClientID: pubkey,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.key)
	if err != nil {
		return "", fmt.Errorf("mfa: sign session token: %w", err)
	}
	return signed, nil
}

// ParsePubkey validates token and returns the WireGuard public key it
// was issued for.
func (j *JWTIssuer) ParsePubkey(tokenString string) (string, error) {
	var claims desktopClientClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.key, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("mfa: invalid session token: %w", err)
	}
	if claims.Type != "DesktopClient" {
		return "", fmt.Errorf("mfa: unexpected token type %q", claims.Type)
	}
	return claims.ClientID, nil
}
