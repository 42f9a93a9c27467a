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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/defguard/core/pkg/devices"
	"github.com/defguard/core/pkg/gateway"
	"github.com/defguard/core/pkg/network"
	"github.com/defguard/core/pkg/users"
)

// ErrUnauthenticated is the single generic error §4.8/§7 requires every
// finish failure to surface to the caller: "MFA failures always return
// a generic unauthenticated to the caller but emit a detailed event
// with the precise reason."
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrPrecondition signals the distinguishable OIDC "not done yet"
// status (§4.8 "OIDC": "fail with a distinguishable precondition status
// so clients can poll").
var ErrPrecondition = errors.New("precondition: oidc callback not completed")

// AuthDevice is a registered biometric/mobile-approve authenticator
// bound to a user, verified via Ed25519 signatures over server-issued
// challenges.
type AuthDevice struct {
	UserID    int64
	PublicKey [32]byte // Ed25519 public key
}

// LocationLookup resolves a location by id.
type LocationLookup interface {
	GetLocation(id int64) (network.Network, bool)
}

// DeviceLookup resolves a WireGuard device by its public key.
type DeviceLookup interface {
	GetDeviceByPubkey(pubkey string) (devices.Device, bool)
}

// UserLookup resolves users and validates location access.
type UserLookup interface {
	GetUser(id int64) (users.User, bool)
	// ValidateLocationAccess reports whether userID belongs to a group
	// the location allows, per §4.8 start-contract rule 2.
	ValidateLocationAccess(userID, locationID int64) bool
}

// AuthDeviceLookup resolves a user's registered biometric/mobile-
// approve authenticators.
type AuthDeviceLookup interface {
	AuthDevicesForUser(userID int64) []AuthDevice
	VerifyOwner(userID int64, pubkey [32]byte) bool
}

// MailSender delivers the email-MFA OTP (§4.8 start rule 5).
type MailSender interface {
	SendOTP(ctx context.Context, email, code string) error
}

// OIDCChecker reports whether a location's external OIDC provider is
// configured, per §4.8 start-contract rule 3.
type OIDCChecker interface {
	Configured(locationID int64) bool
}

// AttachmentStore issues the WireGuard PSK and persists authorization,
// all within one DB transaction per §4.8's finish contract.
type AttachmentStore interface {
	Authorize(ctx context.Context, deviceID, locationID int64, now time.Time) (wgtypes.Key, []string, error)
}

// Notifier emits the peer-authorized event to C7 (§4.8 finish
// contract: "emit DeviceCreated to the peer's location").
type Notifier interface {
	DeviceAuthorized(locationID int64, peer gateway.Peer)
	MfaFailed(ctx context.Context, userID, deviceID int64, method Method, message string)
}

// TokenIssuer mints and parses the §6 desktop-client JWT.
type TokenIssuer interface {
	Issue(pubkey string) (string, error)
	ParsePubkey(token string) (string, error)
}

// Random supplies cryptographically secure bytes (challenge/secret
// generation), injected so tests can be deterministic.
type Random func([]byte) (int, error)

// Config carries the settings Start/Finish need beyond entity lookups.
type Config struct {
	EmailCodeTimeoutSeconds int64
}

// Server is the §4.8 client MFA session machine: it owns the
// process-local session map exclusively (§5 "Client-MFA session map:
// C8 server task only").
type Server struct {
	mu       sync.Mutex
	sessions map[string]Session

	locations   LocationLookup
	devicesL    DeviceLookup
	usersL      UserLookup
	authDevices AuthDeviceLookup
	mail        MailSender
	oidc        OIDCChecker
	attachments AttachmentStore
	notifier    Notifier
	tokens      TokenIssuer
	random      Random
	cfg         Config
	log         *slog.Logger
	now         func() time.Time
}

// NewServer constructs a Server.
func NewServer(locations LocationLookup, devicesL DeviceLookup, usersL UserLookup, authDevices AuthDeviceLookup, mail MailSender, oidc OIDCChecker, attachments AttachmentStore, notifier Notifier, tokens TokenIssuer, random Random, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		sessions:    map[string]Session{},
		locations:   locations,
		devicesL:    devicesL,
		usersL:      usersL,
		authDevices: authDevices,
		mail:        mail,
		oidc:        oidc,
		attachments: attachments,
		notifier:    notifier,
		tokens:      tokens,
		random:      random,
		cfg:         cfg,
		log:         log.With("component", "mfa_server"),
		now:         time.Now,
	}
}

// StartResult is what Start returns to the caller.
type StartResult struct {
	Token     string
	Challenge []byte
}

// Start implements the §4.8 start contract.
func (s *Server) Start(ctx context.Context, locationID int64, pubkey string, method Method) (StartResult, error) {
	loc, ok := s.locations.GetLocation(locationID)
	if !ok {
		return StartResult{}, fmt.Errorf("mfa: location %d not found", locationID)
	}
	if loc.MfaMode == network.MfaModeDisabled {
		return StartResult{}, fmt.Errorf("mfa: location %d does not have MFA enabled", locationID)
	}
	if !compatibleWithLocationMode(loc.MfaMode, method) {
		return StartResult{}, fmt.Errorf("mfa: method incompatible with location MFA mode")
	}

	dev, ok := s.devicesL.GetDeviceByPubkey(pubkey)
	if !ok {
		return StartResult{}, fmt.Errorf("mfa: device not found")
	}
	user, ok := s.usersL.GetUser(dev.OwnerID)
	if !ok {
		return StartResult{}, fmt.Errorf("mfa: user not found")
	}
	if !s.usersL.ValidateLocationAccess(user.ID, locationID) {
		return StartResult{}, fmt.Errorf("mfa: user not permitted on this location")
	}

	if err := s.checkMethodProvisioned(user, locationID, method); err != nil {
		return StartResult{}, err
	}

	session := Session{
		Method:     method,
		LocationID: locationID,
		DeviceID:   dev.ID,
		UserID:     user.ID,
		Pubkey:     pubkey,
		CreatedAt:  s.now(),
	}

	var challenge []byte
	switch method {
	case MethodBiometric, MethodMobileApprove:
		buf := make([]byte, 32)
		if _, err := s.random(buf); err != nil {
			return StartResult{}, fmt.Errorf("mfa: generate challenge: %w", err)
		}
		session.BiometricChallenge = buf
		challenge = buf
	case MethodEmail:
		code := GenerateEmailCode(emailSecretOf(user), s.now().Unix(), s.emailWindow())
		if err := s.mail.SendOTP(ctx, user.Email, code); err != nil {
			return StartResult{}, fmt.Errorf("mfa: send email OTP: %w", err)
		}
	}

	token, err := s.tokens.Issue(pubkey)
	if err != nil {
		return StartResult{}, fmt.Errorf("mfa: issue token: %w", err)
	}

	s.mu.Lock()
	s.sessions[pubkey] = session
	s.mu.Unlock()

	return StartResult{Token: token, Challenge: challenge}, nil
}

func (s *Server) emailWindow() int64 {
	if s.cfg.EmailCodeTimeoutSeconds <= 0 {
		return TOTPPeriod
	}
	return s.cfg.EmailCodeTimeoutSeconds
}

func totpSecretOf(u users.User) []byte  { return u.MFA.TOTPSecret }
func emailSecretOf(u users.User) []byte { return u.MFA.EmailMfaSecret }

// checkMethodProvisioned implements §4.8 start rule 3.
func (s *Server) checkMethodProvisioned(u users.User, locationID int64, method Method) error {
	switch method {
	case MethodTOTP:
		if !u.MFA.TOTPEnabled {
			return fmt.Errorf("mfa: TOTP not enabled for user")
		}
	case MethodEmail:
		if !u.MFA.EmailMfaEnabled {
			return fmt.Errorf("mfa: email MFA not enabled for user")
		}
	case MethodBiometric, MethodMobileApprove:
		if len(s.authDevices.AuthDevicesForUser(u.ID)) == 0 {
			return fmt.Errorf("mfa: no biometric auth device registered")
		}
	case MethodOIDC:
		if s.oidc == nil || !s.oidc.Configured(locationID) {
			return fmt.Errorf("mfa: no OIDC provider configured")
		}
	default:
		return fmt.Errorf("mfa: unsupported method")
	}
	return nil
}

// TokenValid reports whether token still names an active session, for
// the proxy's ClientMfaTokenValidation RPC (§6).
func (s *Server) TokenValid(token string) bool {
	pubkey, err := s.tokens.ParsePubkey(token)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[pubkey]
	if !ok {
		return false
	}
	return !sess.expired(s.now())
}

// NotifyOIDCCallback marks a pending External-mode session's OIDC step
// complete (§4.8 state diagram: "Pending -- oidc-callback --> Pending
// {oidc_done=true}").
func (s *Server) NotifyOIDCCallback(pubkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[pubkey]
	if !ok {
		return fmt.Errorf("mfa: no pending session for this client")
	}
	sess.OIDCAuthCompleted = true
	s.sessions[pubkey] = sess
	return nil
}

// prune evicts every session older than SessionTimeout. Called lazily
// from Finish per §5 ("no timers needed — the next finish or prune
// observes expiry").
func (s *Server) prune() {
	now := s.now()
	for pubkey, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, pubkey)
		}
	}
}
