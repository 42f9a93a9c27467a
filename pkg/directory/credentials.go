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

package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// BearerToken is a refreshable OAuth2-style access token shared by the
// adapters that authenticate via client-credentials or service-account
// grants.
type BearerToken struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time
}

// Valid reports whether the cached token is still usable, with a
// 30-second safety margin before the reported expiry.
func (b *BearerToken) Valid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value != "" && time.Now().Before(b.expiresAt.Add(-30*time.Second))
}

// Set stores a freshly obtained token.
func (b *BearerToken) Set(value string, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = value
	b.expiresAt = time.Now().Add(ttl)
}

// String returns the current token value for use in an Authorization
// header.
func (b *BearerToken) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// tokenResponse is the standard OAuth2 token-endpoint response shape
// shared by Entra, Okta, and the Google token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// FetchClientCredentialsToken performs an OAuth2 client-credentials
// grant against tokenURL, the flow Entra and Okta both use for
// service-to-service directory access.
func FetchClientCredentialsToken(ctx context.Context, client *http.Client, tokenURL, clientID, clientSecret, scope string) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	if scope != "" {
		form.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, NewError(ErrorKindTransient, fmt.Errorf("build token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, NewError(ErrorKindTransient, fmt.Errorf("token request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, NewError(ErrorKindUnexpectedStatus, fmt.Errorf("token endpoint returned %d", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, NewError(ErrorKindDecode, fmt.Errorf("decode token response: %w", err))
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return tr.AccessToken, ttl, nil
}
