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
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/defguard/core/pkg/gateway"
)

// FinishResult is what a successful Finish hands back to the desktop
// client: the network parameters needed to bring the WireGuard
// interface up against this location.
type FinishResult struct {
	PresharedKey string
	AllowedIPs   []string
}

// Finish implements the §4.8 finish contract: verify the proof for the
// session's method, and on success issue a PSK and emit a peer-
// authorized event; on any failure return ErrUnauthenticated while
// emitting a detailed MfaFailed event internally. The one exception is
// an OIDC session whose callback has not completed yet, which returns
// ErrPrecondition so the client can poll.
func (s *Server) Finish(ctx context.Context, token string, proof []byte) (FinishResult, error) {
	pubkey, err := s.tokens.ParsePubkey(token)
	if err != nil {
		return FinishResult{}, ErrUnauthenticated
	}

	s.mu.Lock()
	s.prune()
	sess, ok := s.sessions[pubkey]
	s.mu.Unlock()
	if !ok {
		return FinishResult{}, ErrUnauthenticated
	}
	if sess.expired(s.now()) {
		s.fail(ctx, sess, "session expired")
		return FinishResult{}, ErrUnauthenticated
	}

	if err := s.verifyProof(sess, proof); err != nil {
		s.fail(ctx, sess, err.Error())
		if err == ErrPrecondition {
			return FinishResult{}, err
		}
		return FinishResult{}, ErrUnauthenticated
	}

	result, err := s.authorize(ctx, sess)
	if err != nil {
		s.fail(ctx, sess, err.Error())
		return FinishResult{}, ErrUnauthenticated
	}

	s.mu.Lock()
	delete(s.sessions, pubkey)
	s.mu.Unlock()

	return result, nil
}

// verifyProof dispatches on the session's method, returning
// ErrPrecondition distinctly for an unfinished OIDC callback so the
// client can keep polling instead of retrying the whole handshake.
func (s *Server) verifyProof(sess Session, proof []byte) error {
	user, ok := s.usersL.GetUser(sess.UserID)
	if !ok {
		return fmt.Errorf("mfa: user no longer exists")
	}

	switch sess.Method {
	case MethodTOTP:
		if !VerifyTOTP(totpSecretOf(user), string(proof), s.now().Unix()) {
			return ErrUnauthenticated
		}
	case MethodEmail:
		if !VerifyEmailCode(emailSecretOf(user), string(proof), s.now().Unix(), s.emailWindow()) {
			return ErrUnauthenticated
		}
	case MethodBiometric, MethodMobileApprove:
		if len(proof) != ed25519.SignatureSize {
			return ErrUnauthenticated
		}
		if !s.verifyChallengeSignature(sess, proof) {
			return ErrUnauthenticated
		}
	case MethodOIDC:
		if !sess.OIDCAuthCompleted {
			return ErrPrecondition
		}
	default:
		return ErrUnauthenticated
	}
	return nil
}

// verifyChallengeSignature checks proof as an Ed25519 signature over
// the session's biometric challenge, produced by any authenticator the
// user owns (§4.8 "Biometric"/"MobileApprove": "verify the signature
// against a registered auth device's public key").
func (s *Server) verifyChallengeSignature(sess Session, signature []byte) bool {
	for _, dev := range s.authDevices.AuthDevicesForUser(sess.UserID) {
		if ed25519.Verify(dev.PublicKey[:], sess.BiometricChallenge, signature) {
			return s.authDevices.VerifyOwner(sess.UserID, dev.PublicKey)
		}
	}
	return false
}

func (s *Server) authorize(ctx context.Context, sess Session) (FinishResult, error) {
	psk, allowedIPs, err := s.attachments.Authorize(ctx, sess.DeviceID, sess.LocationID, s.now())
	if err != nil {
		return FinishResult{}, fmt.Errorf("mfa: authorize attachment: %w", err)
	}

	if s.notifier != nil {
		s.notifier.DeviceAuthorized(sess.LocationID, gateway.Peer{
			Pubkey:          sess.Pubkey,
			AllowedIPs:      allowedIPs,
			PresharedKey:    psk.String(),
			HasPresharedKey: true,
		})
	}

	return FinishResult{PresharedKey: psk.String(), AllowedIPs: allowedIPs}, nil
}

func (s *Server) fail(ctx context.Context, sess Session, reason string) {
	s.log.Warn("mfa finish failed", "user_id", sess.UserID, "device_id", sess.DeviceID, "method", sess.Method, "reason", reason)
	if s.notifier != nil {
		s.notifier.MfaFailed(ctx, sess.UserID, sess.DeviceID, sess.Method, reason)
	}
}
