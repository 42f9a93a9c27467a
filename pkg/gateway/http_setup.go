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

package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPProber implements TLSProber with a plain net/http client, the
// same stdlib HTTP stack the teacher's own TLSOptions builds on.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber constructs an HTTPProber that accepts self-signed
// gateway certificates during the probe itself (the probe's only job
// is distinguishing HTTPS-capable from plaintext-only, not validating
// trust — trust is established by the CSR handshake that follows).
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, //nolint:gosec // probe only, not used for the authenticated channel
	}}
}

func (p *HTTPProber) probe(ctx context.Context, scheme, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")+"/healthz", nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, nil //nolint:nilerr // a connection failure just means this scheme isn't available
	}
	defer resp.Body.Close()
	return true, nil
}

// ProbeHTTPS implements TLSProber.
func (p *HTTPProber) ProbeHTTPS(ctx context.Context, url string) (bool, error) {
	return p.probe(ctx, "https", url)
}

// ProbeHTTP implements TLSProber.
func (p *HTTPProber) ProbeHTTP(ctx context.Context, url string) (bool, error) {
	return p.probe(ctx, "http", url)
}

// HTTPSetupClient implements SetupClient against the gateway's
// bootstrap HTTP endpoints (/setup/csr, /setup/cert), reachable only
// before the gateway has a signed certificate installed.
type HTTPSetupClient struct {
	client *http.Client
}

// NewHTTPSetupClient constructs an HTTPSetupClient.
func NewHTTPSetupClient() *HTTPSetupClient {
	return &HTTPSetupClient{client: &http.Client{}}
}

func bareHost(url string) string {
	return strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
}

// RequestSetup implements SetupClient.
func (c *HTTPSetupClient) RequestSetup(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+bareHost(url)+"/setup/csr", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway setup: request CSR: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway setup: CSR endpoint returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// DeliverCertificate implements SetupClient.
func (c *HTTPSetupClient) DeliverCertificate(ctx context.Context, url string, certDER []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+bareHost(url)+"/setup/cert", bytes.NewReader(certDER))
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway setup: deliver certificate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway setup: certificate delivery returned %d", resp.StatusCode)
	}
	return nil
}
