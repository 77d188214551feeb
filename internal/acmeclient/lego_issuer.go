package acmeclient

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/dnszone"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	legodns "github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"gorm.io/gorm"
)

// OrderTracker persists order state transitions during issuance
type OrderTracker interface {
	SetState(ctx context.Context, orderID int, state string) error
	SaveChallenge(ctx context.Context, orderID int, rec *dnszone.ChallengeRecord) error
	GetChallenge(ctx context.Context, orderID int) (*dnszone.ChallengeRecord, error)
	MarkChallengeRemoved(ctx context.Context, orderID int) error
}

// AccountConfig configures registration with the certificate authority
type AccountConfig struct {
	DirectoryURL string
	Email        string
	EabKid       string
	EabHmacKey   string
}

// LegoIssuer obtains certificates over ACME using go-acme/lego with the
// DNS-01 challenge type
type LegoIssuer struct {
	db      *gorm.DB
	dns     *dnszone.Manager
	tracker OrderTracker
	account AccountConfig
}

// NewLegoIssuer creates an ACME issuer
func NewLegoIssuer(db *gorm.DB, dns *dnszone.Manager, tracker OrderTracker, account AccountConfig) *LegoIssuer {
	return &LegoIssuer{
		db:      db,
		dns:     dns,
		tracker: tracker,
		account: account,
	}
}

// acmeUser implements registration.User for lego
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string {
	return u.email
}

func (u *acmeUser) GetRegistration() *registration.Resource {
	return u.registration
}

func (u *acmeUser) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// Issue runs a full ACME order for the certificate order's hostname. The
// context carries the workflow's hard deadline; lego aborts mid-flight when
// it expires and the workflow cleans up the challenge.
func (i *LegoIssuer) Issue(ctx context.Context, order *model.CertificateOrder) (*Result, error) {
	account, privateKey, err := i.ensureAccount(ctx)
	if err != nil {
		return nil, err
	}

	user := &acmeUser{
		email: account.Email,
		registration: &registration.Resource{
			URI: account.RegistrationURI,
		},
		key: privateKey,
	}

	config := lego.NewConfig(user)
	config.CADirURL = i.account.DirectoryURL
	config.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, certerr.Transient("acmeclient.Issue", fmt.Errorf("failed to create lego client: %w", err))
	}

	provider := &challengeProvider{
		ctx:     ctx,
		dns:     i.dns,
		tracker: i.tracker,
		orderID: order.ID,
	}

	// Propagation is verified in Present against our own resolvers; the
	// precheck only re-confirms what Present already waited for.
	err = client.Challenge.SetDNS01Provider(provider,
		legodns.AddRecursiveNameservers([]string{"8.8.8.8:53", "1.1.1.1:53"}),
		legodns.WrapPreCheck(func(domain, fqdn, value string, check legodns.PreCheckFunc) (bool, error) {
			return check(fqdn, value)
		}),
	)
	if err != nil {
		return nil, certerr.Transient("acmeclient.Issue", fmt.Errorf("failed to set DNS provider: %w", err))
	}

	request := certificate.ObtainRequest{
		Domains: []string{order.Hostname},
		Bundle:  true,
	}

	certificates, err := client.Certificate.Obtain(request)
	if err != nil {
		return nil, Classify("acmeclient.Obtain", err)
	}

	_ = i.tracker.SetState(ctx, order.ID, model.OrderStateValid)

	return buildResult(
		string(certificates.Certificate),
		string(certificates.PrivateKey),
		string(certificates.IssuerCertificate),
	)
}

// ensureAccount loads the persisted ACME account for the configured
// directory, registering a fresh one on first use
func (i *LegoIssuer) ensureAccount(ctx context.Context) (*model.AcmeAccount, crypto.PrivateKey, error) {
	var account model.AcmeAccount
	err := i.db.WithContext(ctx).
		Where("directory_url = ?", i.account.DirectoryURL).
		First(&account).Error

	if err == nil && account.Status == model.AcmeAccountStatusActive && account.RegistrationURI != "" {
		key, parseErr := parsePrivateKey(account.AccountKeyPem)
		if parseErr != nil {
			return nil, nil, certerr.Configuration("acmeclient.ensureAccount",
				fmt.Errorf("failed to parse account key: %w", parseErr))
		}
		return &account, key, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, certerr.Transient("acmeclient.ensureAccount", err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = model.AcmeAccount{
			DirectoryURL: i.account.DirectoryURL,
			Email:        i.account.Email,
			EabKid:       i.account.EabKid,
			EabHmacKey:   i.account.EabHmacKey,
			Status:       model.AcmeAccountStatusPending,
		}
	}

	var privateKey crypto.PrivateKey
	if account.AccountKeyPem != "" {
		privateKey, err = parsePrivateKey(account.AccountKeyPem)
		if err != nil {
			return nil, nil, certerr.Configuration("acmeclient.ensureAccount",
				fmt.Errorf("failed to parse account key: %w", err))
		}
	} else {
		key, genErr := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if genErr != nil {
			return nil, nil, fmt.Errorf("failed to generate account key: %w", genErr)
		}
		keyPem, encErr := encodePrivateKey(key)
		if encErr != nil {
			return nil, nil, fmt.Errorf("failed to encode account key: %w", encErr)
		}
		account.AccountKeyPem = keyPem
		privateKey = key
	}

	config := lego.NewConfig(&acmeUser{
		email: account.Email,
		key:   privateKey,
	})
	config.CADirURL = i.account.DirectoryURL

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, nil, certerr.Transient("acmeclient.ensureAccount",
			fmt.Errorf("failed to create lego client: %w", err))
	}

	var reg *registration.Resource
	if account.EabKid != "" {
		reg, err = client.Registration.RegisterWithExternalAccountBinding(registration.RegisterEABOptions{
			TermsOfServiceAgreed: true,
			Kid:                  account.EabKid,
			HmacEncoded:          account.EabHmacKey,
		})
	} else {
		reg, err = client.Registration.Register(registration.RegisterOptions{
			TermsOfServiceAgreed: true,
		})
	}
	if err != nil {
		return nil, nil, Classify("acmeclient.Register", err)
	}

	account.RegistrationURI = reg.URI
	account.Status = model.AcmeAccountStatusActive

	if err := i.db.WithContext(ctx).Save(&account).Error; err != nil {
		return nil, nil, certerr.Transient("acmeclient.ensureAccount",
			fmt.Errorf("failed to save account: %w", err))
	}

	return &account, privateKey, nil
}

// challengeProvider implements lego's challenge.Provider, bridging DNS-01
// presentation to the zone manager and mirroring progress onto the order
type challengeProvider struct {
	ctx     context.Context
	dns     *dnszone.Manager
	tracker OrderTracker
	orderID int
}

// Present publishes the TXT record and blocks until it is visible to the
// resolvers, then hands control back to lego for validation
func (p *challengeProvider) Present(domain, token, keyAuth string) error {
	_, value := legodns.GetRecord(domain, keyAuth)

	rec, err := p.dns.PublishChallenge(p.ctx, domain, token, value)
	if err != nil {
		return err
	}

	if err := p.tracker.SaveChallenge(p.ctx, p.orderID, rec); err != nil {
		// The record is live but untracked; remove it rather than risk an
		// orphan the sweeper cannot see.
		_ = p.dns.RemoveChallenge(p.ctx, rec)
		return err
	}
	_ = p.tracker.SetState(p.ctx, p.orderID, model.OrderStateChallengePublished)

	if err := p.dns.WaitForPropagation(p.ctx, rec.FQDN, value); err != nil {
		return err
	}

	_ = p.tracker.SetState(p.ctx, p.orderID, model.OrderStateValidating)
	return nil
}

// CleanUp removes the TXT record once validation concluded either way
func (p *challengeProvider) CleanUp(domain, token, keyAuth string) error {
	// Use a fresh context: the workflow deadline may already be exceeded,
	// and the challenge must still come down.
	ctx := context.WithoutCancel(p.ctx)

	rec, err := p.tracker.GetChallenge(ctx, p.orderID)
	if err != nil || rec == nil {
		return err
	}

	if err := p.dns.RemoveChallenge(ctx, rec); err != nil {
		return err
	}
	return p.tracker.MarkChallengeRemoved(ctx, p.orderID)
}

// parsePrivateKey parses a PEM-encoded private key
func parsePrivateKey(keyPem string) (crypto.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPem))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, errors.New("unsupported private key type")
}

// encodePrivateKey encodes a private key to PEM format
func encodePrivateKey(key crypto.PrivateKey) (string, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return "", err
		}
		block := &pem.Block{
			Type:  "EC PRIVATE KEY",
			Bytes: keyBytes,
		}
		return string(pem.EncodeToMemory(block)), nil
	default:
		return "", errors.New("unsupported private key type")
	}
}
