// Package acmeclient obtains certificates from the configured authority and
// drives the per-order state machine:
//
//	created -> challenge_published -> validating -> valid|invalid
//	        -> finalizing -> issued|failed
//
// The real issuer speaks ACME through go-acme/lego with DNS-01 challenges
// only; validated hostnames are internal and not reachable over HTTP.
package acmeclient

import (
	"context"
	"fmt"
	"time"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/pki"
)

// Result is the outcome of a successful issuance
type Result struct {
	CertPem         string
	KeyPem          string
	ChainPem        string
	Issuer          string
	Fingerprint     string
	SubjectAltNames []string
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// Issuer obtains a certificate for an order's hostname
type Issuer interface {
	Issue(ctx context.Context, order *model.CertificateOrder) (*Result, error)
}

// buildResult parses the issued leaf and fills in the derived fields
func buildResult(certPem, keyPem, chainPem string) (*Result, error) {
	leaf, err := pki.ParseCertificatePEM(certPem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issued certificate: %w", err)
	}

	return &Result{
		CertPem:         certPem,
		KeyPem:          keyPem,
		ChainPem:        chainPem,
		Issuer:          leaf.Issuer.CommonName,
		Fingerprint:     pki.Fingerprint(leaf),
		SubjectAltNames: leaf.DNSNames,
		IssuedAt:        leaf.NotBefore,
		ExpiresAt:       leaf.NotAfter,
	}, nil
}
