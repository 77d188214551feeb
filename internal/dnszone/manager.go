package dnszone

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"

	"github.com/cenkalti/backoff/v5"
)

const challengeTTL = 60

// ChallengeRecord is the ephemeral TXT record proving control of a hostname.
// It lives exactly as long as its owning order: created when validation is
// needed, removed once the order resolves either way.
type ChallengeRecord struct {
	FQDN             string    `json:"fqdn"`
	Token            string    `json:"token"`
	Value            string    `json:"value"`
	ProviderRecordID string    `json:"providerRecordId"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Manager manages records in the single authoritative zone
type Manager struct {
	zoneName string
	zoneID   string
	provider Provider
	resolver Resolver

	propagationTimeout time.Duration
	pollInterval       time.Duration
}

// NewManager creates a zone manager for one authoritative zone
func NewManager(zoneName, zoneID string, provider Provider, resolver Resolver, propagationTimeout, pollInterval time.Duration) *Manager {
	return &Manager{
		zoneName:           zoneName,
		zoneID:             zoneID,
		provider:           provider,
		resolver:           resolver,
		propagationTimeout: propagationTimeout,
		pollInterval:       pollInterval,
	}
}

// Zone returns the managed zone apex
func (m *Manager) Zone() string {
	return m.zoneName
}

// PublishChallenge upserts the DNS-01 TXT record for hostname. Publishing is
// idempotent: a second publish with the same hostname/token replaces the
// record instead of duplicating it.
func (m *Manager) PublishChallenge(ctx context.Context, hostname, token, value string) (*ChallengeRecord, error) {
	if !InZone(m.zoneName, hostname) {
		return nil, certerr.Configuration("dnszone.PublishChallenge",
			fmt.Errorf("hostname %q is not under zone %q", hostname, m.zoneName))
	}

	fqdn := ChallengeFQDN(hostname)
	recordID, changed, err := m.provider.EnsureRecord(ctx, m.zoneID, Record{
		Type:  "TXT",
		Name:  fqdn,
		Value: value,
		TTL:   challengeTTL,
	})
	if err != nil {
		return nil, err
	}

	if changed {
		log.Printf("[DNS Zone] Published challenge record %s (provider id=%s)\n", fqdn, recordID)
	}

	return &ChallengeRecord{
		FQDN:             fqdn,
		Token:            token,
		Value:            value,
		ProviderRecordID: recordID,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// RemoveChallenge deletes the challenge TXT record. An already-removed record
// is success, not an error, so partial-failure retries converge.
func (m *Manager) RemoveChallenge(ctx context.Context, rec *ChallengeRecord) error {
	if rec == nil {
		return nil
	}

	recordID := rec.ProviderRecordID
	if recordID == "" {
		// Record may have been created by an earlier attempt whose ID was
		// lost; look it up before declaring it gone.
		id, err := m.provider.FindRecord(ctx, m.zoneID, "TXT", rec.FQDN, rec.Value)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		recordID = id
	}

	err := m.provider.DeleteRecord(ctx, m.zoneID, recordID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[DNS Zone] Challenge record %s already removed\n", rec.FQDN)
		return nil
	}
	if err != nil {
		return err
	}

	log.Printf("[DNS Zone] Removed challenge record %s\n", rec.FQDN)
	return nil
}

// EnsureHostRecord upserts the service hostname record: an A record when
// target is an IP address, a CNAME otherwise.
func (m *Manager) EnsureHostRecord(ctx context.Context, hostname, target string) error {
	if !InZone(m.zoneName, hostname) {
		return certerr.Configuration("dnszone.EnsureHostRecord",
			fmt.Errorf("hostname %q is not under zone %q", hostname, m.zoneName))
	}

	recordType := "CNAME"
	if net.ParseIP(target) != nil {
		recordType = "A"
	}

	_, changed, err := m.provider.EnsureRecord(ctx, m.zoneID, Record{
		Type:  recordType,
		Name:  ToFQDN(m.zoneName, hostname),
		Value: target,
		TTL:   120,
	})
	if err != nil {
		return err
	}

	if changed {
		log.Printf("[DNS Zone] Ensured %s record %s -> %s\n", recordType, hostname, target)
	}
	return nil
}

var errNotPropagated = errors.New("TXT record not yet visible")

// WaitForPropagation polls the configured resolvers until the TXT value is
// visible, with exponential backoff and a hard deadline. The caller must not
// proceed to challenge validation before this returns nil.
func (m *Manager) WaitForPropagation(ctx context.Context, fqdn, value string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.pollInterval
	bo.MaxInterval = 30 * time.Second

	check := func() (struct{}, error) {
		values, err := m.resolver.LookupTXT(ctx, fqdn)
		if err != nil {
			return struct{}{}, err
		}
		for _, v := range values {
			if v == value {
				return struct{}{}, nil
			}
		}
		return struct{}{}, errNotPropagated
	}

	_, err := backoff.Retry(ctx, check,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(m.propagationTimeout),
	)
	if err != nil {
		return certerr.Transient("dnszone.WaitForPropagation",
			fmt.Errorf("record %s did not propagate within %s: %w", fqdn, m.propagationTimeout, err))
	}
	return nil
}
