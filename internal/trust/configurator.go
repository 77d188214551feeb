// Package trust turns stored certificate material into mTLS configuration
// for mesh participants. The trust bundle is the union of issuer chains seen
// across all current certificates, so a mid-rotation mesh where some peers
// hold certificates from the previous issuer keeps validating.
package trust

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certstore"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/pki"
)

// Peer validation failures, distinguishable by errors.Is
var (
	ErrUntrustedIssuer = errors.New("peer certificate not signed by a trusted issuer")
	ErrSubjectMismatch = errors.New("peer certificate subject does not match expected identity")
	ErrPeerExpired     = errors.New("peer certificate is expired or not yet valid")
)

// MaterialSource provides current certificate entries, normally the
// versioned certificate store
type MaterialSource interface {
	Get(ctx context.Context, identityID int) (*certstore.Entry, error)
	List(ctx context.Context) ([]*certstore.Entry, error)
}

// EventSink announces trust bundle changes to subscribers
type EventSink interface {
	PublishTrustRefresh(ctx context.Context, issuerCount int, identities []string) error
}

// Material is everything one service needs to participate in the mesh
type Material struct {
	IdentityName string
	Hostname     string
	CertPem      string
	KeyPem       string
	ChainPem     string
	BundlePem    string
	Version      int
}

// Configurator builds and caches the mesh trust bundle
type Configurator struct {
	source MaterialSource
	events EventSink

	mu        sync.RWMutex
	pool      *x509.CertPool
	bundlePem string
	issuers   []*x509.Certificate
}

// NewConfigurator creates a trust configurator. Call Refresh before first
// use; until then the bundle is empty and every peer is untrusted.
func NewConfigurator(source MaterialSource, events EventSink) *Configurator {
	return &Configurator{
		source: source,
		events: events,
		pool:   x509.NewCertPool(),
	}
}

// Refresh rebuilds the trust bundle from the store and announces the change.
// Issuers are deduplicated by fingerprint; the bundle orders them by subject
// so its bytes are stable across rebuilds with the same content.
func (c *Configurator) Refresh(ctx context.Context) error {
	entries, err := c.source.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load certificate entries: %w", err)
	}

	seen := make(map[string]*x509.Certificate)
	identities := make([]string, 0, len(entries))
	for _, entry := range entries {
		identities = append(identities, entry.IdentityName)
		chain, err := pki.ParseBundlePEM(entry.ChainPem)
		if err != nil {
			return fmt.Errorf("identity %s: failed to parse chain: %w", entry.IdentityName, err)
		}
		for _, cert := range chain {
			seen[pki.Fingerprint(cert)] = cert
		}
	}

	issuers := make([]*x509.Certificate, 0, len(seen))
	for _, cert := range seen {
		issuers = append(issuers, cert)
	}
	sort.Slice(issuers, func(i, j int) bool {
		return issuers[i].Subject.String() < issuers[j].Subject.String()
	})

	pool := x509.NewCertPool()
	var bundle strings.Builder
	for _, cert := range issuers {
		pool.AddCert(cert)
		bundle.WriteString(pki.EncodeCertificatePEM(cert.Raw))
	}

	c.mu.Lock()
	c.pool = pool
	c.bundlePem = bundle.String()
	c.issuers = issuers
	c.mu.Unlock()

	if c.events != nil {
		if err := c.events.PublishTrustRefresh(ctx, len(issuers), identities); err != nil {
			return fmt.Errorf("failed to publish trust refresh: %w", err)
		}
	}
	return nil
}

// Bundle returns the current trust bundle as concatenated PEM
func (c *Configurator) Bundle() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bundlePem
}

// Issuers returns the distinct issuer certificates in the current bundle
func (c *Configurator) Issuers() []*x509.Certificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*x509.Certificate(nil), c.issuers...)
}

// CurrentMaterial returns the identity's latest certificate, key, chain and
// the mesh trust bundle
func (c *Configurator) CurrentMaterial(ctx context.Context, identity *model.ServiceIdentity) (*Material, error) {
	entry, err := c.source.Get(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	return &Material{
		IdentityName: identity.Name,
		Hostname:     identity.Hostname,
		CertPem:      entry.CertPem,
		KeyPem:       entry.KeyPem,
		ChainPem:     entry.ChainPem,
		BundlePem:    c.Bundle(),
		Version:      entry.Version,
	}, nil
}

// ValidatePeer checks a presented leaf certificate against the trust bundle
// and the expected peer hostname. The returned error wraps exactly one of
// ErrPeerExpired, ErrUntrustedIssuer or ErrSubjectMismatch so callers can
// report why the peer was rejected.
func (c *Configurator) ValidatePeer(leaf *x509.Certificate, expectedHostname string) error {
	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()

	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		var invalid x509.CertificateInvalidError
		if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
			return fmt.Errorf("%w: %v", ErrPeerExpired, err)
		}
		var unknown x509.UnknownAuthorityError
		if errors.As(err, &unknown) {
			return fmt.Errorf("%w: issuer %q", ErrUntrustedIssuer, leaf.Issuer.CommonName)
		}
		return fmt.Errorf("%w: %v", ErrUntrustedIssuer, err)
	}

	if err := leaf.VerifyHostname(expectedHostname); err != nil {
		return fmt.Errorf("%w: expected %q, certificate covers %v",
			ErrSubjectMismatch, expectedHostname, leaf.DNSNames)
	}
	return nil
}

// ServerTLSConfig builds a server-side mTLS config for the identity. The
// certificate is fetched per handshake, so a rotation takes effect without a
// listener restart.
func (c *Configurator) ServerTLSConfig(identity *model.ServiceIdentity) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.RequireAndVerifyClientCert,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			return c.keyPair(hello.Context(), identity)
		},
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			c.mu.RLock()
			pool := c.pool
			c.mu.RUnlock()
			cfg := &tls.Config{
				MinVersion: tls.VersionTLS12,
				ClientAuth: tls.RequireAndVerifyClientCert,
				ClientCAs:  pool,
				GetCertificate: func(h *tls.ClientHelloInfo) (*tls.Certificate, error) {
					return c.keyPair(h.Context(), identity)
				},
			}
			return cfg, nil
		},
	}
}

// ClientTLSConfig builds a client-side mTLS config for the identity
func (c *Configurator) ClientTLSConfig(ctx context.Context, identity *model.ServiceIdentity) (*tls.Config, error) {
	pair, err := c.keyPair(ctx, identity)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		RootCAs:      pool,
		Certificates: []tls.Certificate{*pair},
	}, nil
}

func (c *Configurator) keyPair(ctx context.Context, identity *model.ServiceIdentity) (*tls.Certificate, error) {
	entry, err := c.source.Get(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("identity %s: no certificate material: %w", identity.Name, err)
	}
	pair, err := tls.X509KeyPair([]byte(entry.CertPem+entry.ChainPem), []byte(entry.KeyPem))
	if err != nil {
		return nil, fmt.Errorf("identity %s: failed to build key pair: %w", identity.Name, err)
	}
	return &pair, nil
}
