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
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/defguard/core/pkg/devices"
	"github.com/defguard/core/pkg/gateway"
	"github.com/defguard/core/pkg/network"
	"github.com/defguard/core/pkg/users"
)

type fakeLocations struct{ byID map[int64]network.Network }

func (f fakeLocations) GetLocation(id int64) (network.Network, bool) {
	n, ok := f.byID[id]
	return n, ok
}

type fakeDevices struct{ byPubkey map[string]devices.Device }

func (f fakeDevices) GetDeviceByPubkey(pubkey string) (devices.Device, bool) {
	d, ok := f.byPubkey[pubkey]
	return d, ok
}

type fakeUsers struct {
	byID    map[int64]users.User
	allowed map[int64]bool
}

func (f fakeUsers) GetUser(id int64) (users.User, bool) {
	u, ok := f.byID[id]
	return u, ok
}

func (f fakeUsers) ValidateLocationAccess(userID, locationID int64) bool {
	if f.allowed == nil {
		return true
	}
	return f.allowed[userID]
}

type fakeAuthDevices struct{ byUser map[int64][]AuthDevice }

func (f fakeAuthDevices) AuthDevicesForUser(userID int64) []AuthDevice {
	return f.byUser[userID]
}

func (f fakeAuthDevices) VerifyOwner(userID int64, pubkey [32]byte) bool {
	for _, d := range f.byUser[userID] {
		if d.PublicKey == pubkey {
			return true
		}
	}
	return false
}

type noMail struct{ sent []string }

func (m *noMail) SendOTP(ctx context.Context, email, code string) error {
	m.sent = append(m.sent, code)
	return nil
}

type noOIDC struct{ configured bool }

func (o noOIDC) Configured(int64) bool { return o.configured }

type fakeAttachments struct {
	authorized []int64
	fail       bool
}

func (f *fakeAttachments) Authorize(ctx context.Context, deviceID, locationID int64, now time.Time) (wgtypes.Key, []string, error) {
	if f.fail {
		return wgtypes.Key{}, nil, fmt.Errorf("db down")
	}
	f.authorized = append(f.authorized, deviceID)
	key, err := wgtypes.GenerateKey()
	return key, []string{"10.0.0.5/32"}, err
}

type fakeNotifier struct {
	authorizedPeers []gateway.Peer
	failures        []string
}

func (n *fakeNotifier) DeviceAuthorized(locationID int64, peer gateway.Peer) {
	n.authorizedPeers = append(n.authorizedPeers, peer)
}

func (n *fakeNotifier) MfaFailed(ctx context.Context, userID, deviceID int64, method Method, message string) {
	n.failures = append(n.failures, message)
}

type jwtStub struct{ issued map[string]string }

func newJWTStub() *jwtStub { return &jwtStub{issued: map[string]string{}} }

func (j *jwtStub) Issue(pubkey string) (string, error) {
	token := "tok-" + pubkey
	j.issued[token] = pubkey
	return token, nil
}

func (j *jwtStub) ParsePubkey(token string) (string, error) {
	pubkey, ok := j.issued[token]
	if !ok {
		return "", fmt.Errorf("unknown token")
	}
	return pubkey, nil
}

func newTestServer(t *testing.T, method Method) (*Server, *fakeAttachments, *fakeNotifier) {
	t.Helper()
	loc := network.Network{ID: 1, Name: "loc1", MfaMode: network.MfaModeInternal}
	dev := devices.Device{ID: 7, OwnerID: 42}
	user := users.User{ID: 42, Email: "user@example.com"}
	switch method {
	case MethodTOTP:
		user.MFA.TOTPEnabled = true
		user.MFA.TOTPSecret = []byte("a-totp-secret-000000")
	case MethodEmail:
		user.MFA.EmailMfaEnabled = true
		user.MFA.EmailMfaSecret = []byte("an-email-secret-0000")
	}

	attachments := &fakeAttachments{}
	notifier := &fakeNotifier{}
	srv := NewServer(
		fakeLocations{byID: map[int64]network.Network{1: loc}},
		fakeDevices{byPubkey: map[string]devices.Device{"pk1": dev}},
		fakeUsers{byID: map[int64]users.User{42: user}},
		fakeAuthDevices{},
		&noMail{},
		noOIDC{},
		attachments,
		notifier,
		newJWTStub(),
		rand.Read,
		Config{EmailCodeTimeoutSeconds: TOTPPeriod},
		nil,
	)
	return srv, attachments, notifier
}

func TestStartFinishTOTPRoundTrip(t *testing.T) {
	srv, attachments, notifier := newTestServer(t, MethodTOTP)
	ctx := context.Background()

	res, err := srv.Start(ctx, 1, "pk1", MethodTOTP)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	now := time.Now()
	code := GenerateTOTP([]byte("a-totp-secret-000000"), now.Unix())
	srv.now = func() time.Time { return now }

	finish, err := srv.Finish(ctx, res.Token, []byte(code))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finish.PresharedKey == "" {
		t.Fatal("expected a preshared key")
	}
	if len(attachments.authorized) != 1 || attachments.authorized[0] != 7 {
		t.Fatalf("expected device 7 authorized, got %v", attachments.authorized)
	}
	if len(notifier.authorizedPeers) != 1 {
		t.Fatalf("expected one DeviceAuthorized notification, got %d", len(notifier.authorizedPeers))
	}

	// The session is single-use: a second finish with the same token fails.
	if _, err := srv.Finish(ctx, res.Token, []byte(code)); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated on replay, got %v", err)
	}
}

func TestFinishRejectsWrongTOTPCode(t *testing.T) {
	srv, _, notifier := newTestServer(t, MethodTOTP)
	ctx := context.Background()

	res, err := srv.Start(ctx, 1, "pk1", MethodTOTP)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := srv.Finish(ctx, res.Token, []byte("000000")); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if len(notifier.failures) != 1 {
		t.Fatalf("expected a recorded failure event, got %d", len(notifier.failures))
	}
}

func TestFinishAcceptsPreviousEmailWindow(t *testing.T) {
	srv, _, _ := newTestServer(t, MethodEmail)
	ctx := context.Background()

	res, err := srv.Start(ctx, 1, "pk1", MethodEmail)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	secret := []byte("an-email-secret-0000")
	issuedAt := time.Now()
	code := GenerateEmailCode(secret, issuedAt.Unix(), TOTPPeriod)

	srv.now = func() time.Time { return issuedAt.Add(TOTPPeriod * time.Second) }

	if _, err := srv.Finish(ctx, res.Token, []byte(code)); err != nil {
		t.Fatalf("expected previous-window code to be accepted, got %v", err)
	}
}

func TestStartRejectsOIDCOnInternalLocation(t *testing.T) {
	srv, _, _ := newTestServer(t, MethodNone)
	ctx := context.Background()

	if _, err := srv.Start(ctx, 1, "pk1", MethodOIDC); err == nil {
		t.Fatal("expected OIDC to be rejected on an Internal-mode location")
	}
}

func TestFinishOIDCPendingReturnsPrecondition(t *testing.T) {
	loc := network.Network{ID: 2, Name: "loc2", MfaMode: network.MfaModeExternal}
	dev := devices.Device{ID: 9, OwnerID: 43}
	user := users.User{ID: 43, Email: "ext@example.com"}

	srv := NewServer(
		fakeLocations{byID: map[int64]network.Network{2: loc}},
		fakeDevices{byPubkey: map[string]devices.Device{"pk2": dev}},
		fakeUsers{byID: map[int64]users.User{43: user}},
		fakeAuthDevices{},
		&noMail{},
		noOIDC{configured: true},
		&fakeAttachments{},
		&fakeNotifier{},
		newJWTStub(),
		rand.Read,
		Config{},
		nil,
	)

	ctx := context.Background()
	res, err := srv.Start(ctx, 2, "pk2", MethodOIDC)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := srv.Finish(ctx, res.Token, nil); err != ErrPrecondition {
		t.Fatalf("expected ErrPrecondition while the oidc callback is pending, got %v", err)
	}

	if err := srv.NotifyOIDCCallback("pk2"); err != nil {
		t.Fatalf("notify oidc callback: %v", err)
	}
	if _, err := srv.Finish(ctx, res.Token, nil); err != nil {
		t.Fatalf("expected finish to succeed once the oidc callback completed, got %v", err)
	}
}

func TestFinishRejectsExpiredSession(t *testing.T) {
	srv, _, _ := newTestServer(t, MethodTOTP)
	ctx := context.Background()
	start := time.Now()
	srv.now = func() time.Time { return start }

	res, err := srv.Start(ctx, 1, "pk1", MethodTOTP)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	srv.now = func() time.Time { return start.Add(SessionTimeout + time.Second) }
	code := GenerateTOTP([]byte("a-totp-secret-000000"), start.Unix())
	if _, err := srv.Finish(ctx, res.Token, []byte(code)); err != ErrUnauthenticated {
		t.Fatalf("expected expired session to be rejected, got %v", err)
	}
}

func TestStartBiometricIssuesChallengeAndFinishVerifiesSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var pubArr [32]byte
	copy(pubArr[:], pub)

	loc := network.Network{ID: 1, Name: "loc1", MfaMode: network.MfaModeInternal}
	dev := devices.Device{ID: 7, OwnerID: 42}
	user := users.User{ID: 42, Email: "user@example.com"}

	srv := NewServer(
		fakeLocations{byID: map[int64]network.Network{1: loc}},
		fakeDevices{byPubkey: map[string]devices.Device{"pk1": dev}},
		fakeUsers{byID: map[int64]users.User{42: user}},
		fakeAuthDevices{byUser: map[int64][]AuthDevice{42: {{UserID: 42, PublicKey: pubArr}}}},
		&noMail{},
		noOIDC{},
		&fakeAttachments{},
		&fakeNotifier{},
		newJWTStub(),
		rand.Read,
		Config{},
		nil,
	)

	ctx := context.Background()
	res, err := srv.Start(ctx, 1, "pk1", MethodBiometric)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(res.Challenge) == 0 {
		t.Fatal("expected a biometric challenge to be issued")
	}

	sig := ed25519.Sign(priv, res.Challenge)
	if _, err := srv.Finish(ctx, res.Token, sig); err != nil {
		t.Fatalf("finish: %v", err)
	}
}
