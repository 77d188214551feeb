package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// LocalCA is a self-signed signing authority. It backs the offline
// development issuer and the trust configurator's tests; production mesh
// certificates come from the ACME authority instead.
type LocalCA struct {
	caCert    *x509.Certificate
	caKey     *rsa.PrivateKey
	caCertPEM string
	mu        sync.Mutex
	serial    *big.Int
}

// NewLocalCA generates a new self-signed CA with the given common name
func NewLocalCA(commonName string) (*LocalCA, error) {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(3650 * 24 * time.Hour), // 10 years
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &LocalCA{
		caCert:    caCert,
		caKey:     caKey,
		caCertPEM: EncodeCertificatePEM(der),
		serial:    big.NewInt(1),
	}, nil
}

// CertPEM returns the CA certificate in PEM format
func (ca *LocalCA) CertPEM() string {
	return ca.caCertPEM
}

// Certificate returns the parsed CA certificate
func (ca *LocalCA) Certificate() *x509.Certificate {
	return ca.caCert
}

// Sign issues a leaf certificate for hostname with the given lifetime.
// Returns the leaf PEM and its private key PEM.
func (ca *LocalCA) Sign(hostname string, lifetime time.Duration) (certPEM, keyPEM string, err error) {
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate leaf key: %w", err)
	}

	ca.mu.Lock()
	ca.serial.Add(ca.serial, big.NewInt(1))
	serial := new(big.Int).Set(ca.serial)
	ca.mu.Unlock()

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: hostname,
		},
		DNSNames:    []string{hostname},
		NotBefore:   notBefore,
		NotAfter:    notBefore.Add(lifetime),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, ca.caCert, &leafKey.PublicKey, ca.caKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to create leaf certificate: %w", err)
	}

	keyDER := x509.MarshalPKCS1PrivateKey(leafKey)
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER}))

	return EncodeCertificatePEM(der), keyPEM, nil
}
