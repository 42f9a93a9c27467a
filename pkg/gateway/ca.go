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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// gatewayCertLifetime is how long a signed gateway certificate remains
// valid before the gateway must request a fresh one.
const gatewayCertLifetime = 365 * 24 * time.Hour

// LocalCertAuthority is a self-signed root that signs gateway CSRs
// directly, with no external PKI dependency: no pack repo wraps
// certificate issuance in a library (the teacher only ever loads
// pre-existing certs via crypto/tls.LoadX509KeyPair), so this builds
// directly on crypto/x509, the same package the teacher already
// imports for certificate handling.
type LocalCertAuthority struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

// NewLocalCertAuthority builds a CA from a PEM-less in-memory
// certificate/key pair, generating a fresh self-signed root if none is
// supplied.
func NewLocalCertAuthority(cert *x509.Certificate, key *rsa.PrivateKey) (*LocalCertAuthority, error) {
	if cert != nil && key != nil {
		return &LocalCertAuthority{cert: cert, key: key}, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("gateway ca: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("gateway ca: generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "defguard-core gateway CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * gatewayCertLifetime),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("gateway ca: create root certificate: %w", err)
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("gateway ca: parse root certificate: %w", err)
	}
	return &LocalCertAuthority{cert: root, key: key}, nil
}

// SignCSR implements CertAuthority.
func (ca *LocalCertAuthority) SignCSR(ctx context.Context, csrDER []byte) ([]byte, error) {
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("gateway ca: parse CSR: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("gateway ca: invalid CSR signature: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("gateway ca: generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      csr.Subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(gatewayCertLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     csr.DNSNames,
		IPAddresses:  csr.IPAddresses,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, csr.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("gateway ca: sign certificate: %w", err)
	}
	return der, nil
}
