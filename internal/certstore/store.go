// Package certstore persists issued certificates and their private keys as
// versioned records, append-only per identity. A record becomes visible to
// readers only once both halves are durably stored together; private keys
// are sealed with the store master key before the row is written.
package certstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/pki"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNoRecord is returned when an identity has no stored certificate yet
var ErrNoRecord = errors.New("no certificate record for identity")

// Entry is a complete certificate record with the private key in the clear.
// It never leaves the process boundary; API handlers re-encode what they need.
type Entry struct {
	RecordID        int
	IdentityID      int
	IdentityName    string
	Version         int
	Hostname        string
	CertPem         string
	ChainPem        string
	KeyPem          string
	Issuer          string
	Fingerprint     string
	SubjectAltNames []string
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// Store is the versioned certificate store
type Store struct {
	db  *gorm.DB
	key [32]byte
}

// NewStore creates a certificate store sealing keys with masterKey
func NewStore(db *gorm.DB, masterKey [32]byte) *Store {
	return &Store{db: db, key: masterKey}
}

// Put appends a new version for the identity. The write is atomic: the row
// carries certificate and sealed key together, so a reader can never observe
// one half without the other. The previous version stays active until the
// insert commits.
func (s *Store) Put(ctx context.Context, identity *model.ServiceIdentity, entry *Entry) (*model.CertificateRecord, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	sealed, err := Seal(s.key, []byte(entry.KeyPem))
	if err != nil {
		return nil, certerr.StoreIntegrity("certstore.Put", fmt.Errorf("failed to seal private key: %w", err))
	}

	sansJSON, err := json.Marshal(entry.SubjectAltNames)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SANs: %w", err)
	}

	record := &model.CertificateRecord{
		IdentityID:      identity.ID,
		Hostname:        entry.Hostname,
		CertPem:         entry.CertPem,
		ChainPem:        entry.ChainPem,
		KeySealed:       sealed,
		Issuer:          entry.Issuer,
		Fingerprint:     entry.Fingerprint,
		SubjectAltNames: datatypes.JSON(sansJSON),
		IssuedAt:        entry.IssuedAt,
		ExpiresAt:       entry.ExpiresAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&model.CertificateRecord{}).
			Where("identity_id = ?", identity.ID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}

		record.Version = maxVersion + 1
		// The unique (identity_id, version) index rejects a concurrent
		// append for the same identity; the loser retries on the next tick.
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, certerr.Transient("certstore.Put", fmt.Errorf("failed to store certificate record: %w", err))
	}

	return record, nil
}

// Get returns the latest complete record for the identity
func (s *Store) Get(ctx context.Context, identityID int) (*Entry, error) {
	var record model.CertificateRecord
	err := s.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("version DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, certerr.Transient("certstore.Get", err)
	}

	return s.open(&record)
}

// List returns the latest record of every identity that has one
func (s *Store) List(ctx context.Context) ([]*Entry, error) {
	var records []model.CertificateRecord
	if err := s.db.WithContext(ctx).
		Order("identity_id ASC, version ASC").
		Find(&records).Error; err != nil {
		return nil, certerr.Transient("certstore.List", err)
	}

	// Later versions overwrite earlier ones per identity
	latest := make(map[int]*model.CertificateRecord)
	var order []int
	for i := range records {
		rec := &records[i]
		if _, seen := latest[rec.IdentityID]; !seen {
			order = append(order, rec.IdentityID)
		}
		latest[rec.IdentityID] = rec
	}

	entries := make([]*Entry, 0, len(latest))
	for _, identityID := range order {
		entry, err := s.open(latest[identityID])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListVersions returns all stored versions for an identity, newest first
func (s *Store) ListVersions(ctx context.Context, identityID int) ([]model.CertificateRecord, error) {
	var records []model.CertificateRecord
	err := s.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("version DESC").
		Find(&records).Error
	if err != nil {
		return nil, certerr.Transient("certstore.ListVersions", err)
	}
	return records, nil
}

// open unseals a row and checks its integrity. A row missing either half is
// surfaced as a store integrity error, never returned partially.
func (s *Store) open(record *model.CertificateRecord) (*Entry, error) {
	if record.CertPem == "" || record.KeySealed == "" {
		return nil, certerr.StoreIntegrity("certstore.open",
			fmt.Errorf("record %d (identity %d) is incomplete", record.ID, record.IdentityID))
	}

	keyPem, err := Open(s.key, record.KeySealed)
	if err != nil {
		return nil, certerr.StoreIntegrity("certstore.open",
			fmt.Errorf("record %d: %w", record.ID, err))
	}

	var sans []string
	if len(record.SubjectAltNames) > 0 {
		if err := json.Unmarshal(record.SubjectAltNames, &sans); err != nil {
			return nil, fmt.Errorf("record %d has malformed SANs: %w", record.ID, err)
		}
	}

	return &Entry{
		RecordID:        record.ID,
		IdentityID:      record.IdentityID,
		Version:         record.Version,
		Hostname:        record.Hostname,
		CertPem:         record.CertPem,
		ChainPem:        record.ChainPem,
		KeyPem:          string(keyPem),
		Issuer:          record.Issuer,
		Fingerprint:     record.Fingerprint,
		SubjectAltNames: sans,
		IssuedAt:        record.IssuedAt,
		ExpiresAt:       record.ExpiresAt,
	}, nil
}

// validateEntry rejects partial writes before they reach the database
func validateEntry(entry *Entry) error {
	if entry == nil {
		return certerr.StoreIntegrity("certstore.validate", errors.New("nil entry"))
	}
	if entry.CertPem == "" {
		return certerr.StoreIntegrity("certstore.validate", errors.New("entry has no certificate"))
	}
	if entry.KeyPem == "" {
		return certerr.StoreIntegrity("certstore.validate", errors.New("entry has no private key"))
	}
	if _, err := pki.ParseCertificatePEM(entry.CertPem); err != nil {
		return certerr.StoreIntegrity("certstore.validate", fmt.Errorf("entry certificate is not parseable: %w", err))
	}
	if entry.Hostname == "" {
		return certerr.StoreIntegrity("certstore.validate", errors.New("entry has no hostname"))
	}
	return nil
}
