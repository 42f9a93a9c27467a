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
	"context"
	"fmt"
	"time"
)

// SetupProbeTimeout is the §5 "Proxy initial-setup probe: 10s for each
// of HTTPS then HTTP" timeout, reused here for the gateway-side probe
// §4.7 describes in the same terms.
const SetupProbeTimeout = 10 * time.Second

// CertAuthority signs a gateway's CSR with the core's CA, completing
// the §4.7 "initial setup handshake" that converts a gateway endpoint
// from plaintext to TLS.
type CertAuthority interface {
	SignCSR(ctx context.Context, csrDER []byte) (certDER []byte, err error)
}

// SetupClient performs the unauthenticated bootstrap call a brand-new
// gateway exposes before it has a signed certificate: submit a CSR,
// receive a signed certificate back.
type SetupClient interface {
	RequestSetup(ctx context.Context, url string) (csrDER []byte, err error)
	DeliverCertificate(ctx context.Context, url string, certDER []byte) error
}

// PerformInitialSetup runs the §4.7 CSR handshake: it is called before
// any gateway may receive a peer, converting the endpoint from
// plaintext to TLS by signing the gateway's CSR with ca.
func PerformInitialSetup(ctx context.Context, setup SetupClient, ca CertAuthority, url string) error {
	ctx, cancel := context.WithTimeout(ctx, SetupProbeTimeout)
	defer cancel()

	csr, err := setup.RequestSetup(ctx, url)
	if err != nil {
		return fmt.Errorf("gateway setup: request CSR from %s: %w", url, err)
	}
	cert, err := ca.SignCSR(ctx, csr)
	if err != nil {
		return fmt.Errorf("gateway setup: sign CSR for %s: %w", url, err)
	}
	if err := setup.DeliverCertificate(ctx, url, cert); err != nil {
		return fmt.Errorf("gateway setup: deliver certificate to %s: %w", url, err)
	}
	return nil
}

// TLSProber reports whether url currently answers over HTTPS. When it
// does not and a plaintext probe succeeds, the caller must repeat
// PerformInitialSetup (§4.7: "if TLS is unavailable and HTTP succeeds,
// setup is repeated").
type TLSProber interface {
	ProbeHTTPS(ctx context.Context, url string) (bool, error)
	ProbeHTTP(ctx context.Context, url string) (bool, error)
}

// NeedsSetup determines, per §4.7, whether a gateway connection must
// run the initial setup handshake before streaming can begin.
func NeedsSetup(ctx context.Context, prober TLSProber, url string) (bool, error) {
	httpsCtx, cancelHTTPS := context.WithTimeout(ctx, SetupProbeTimeout)
	defer cancelHTTPS()

	httpsOK, err := prober.ProbeHTTPS(httpsCtx, url)
	if err != nil {
		return false, fmt.Errorf("gateway setup: probe HTTPS: %w", err)
	}
	if httpsOK {
		return false, nil
	}
	httpCtx, cancelHTTP := context.WithTimeout(ctx, SetupProbeTimeout)
	defer cancelHTTP()
	httpOK, err := prober.ProbeHTTP(httpCtx, url)
	if err != nil {
		return false, fmt.Errorf("gateway setup: probe HTTP: %w", err)
	}
	if !httpOK {
		return false, fmt.Errorf("gateway setup: %s answers neither HTTPS nor HTTP", url)
	}
	return true, nil
}
