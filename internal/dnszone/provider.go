package dnszone

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a DNS record does not exist at the provider
var ErrNotFound = errors.New("DNS record not found")

// Record is a provider-agnostic DNS record
type Record struct {
	Type    string // A|AAAA|CNAME|TXT
	Name    string // fully qualified name
	Value   string
	TTL     int
	Proxied bool
}

// Provider defines the interface for DNS providers
type Provider interface {
	// EnsureRecord ensures a DNS record exists with the correct values.
	// If a record with the same type/name/value exists it is updated in
	// place; otherwise it is created.
	// Returns: providerRecordID, changed (true if created/updated), error
	EnsureRecord(ctx context.Context, zoneID string, record Record) (providerRecordID string, changed bool, err error)

	// DeleteRecord deletes a DNS record by its provider-specific ID.
	// Returns ErrNotFound when the record is already gone.
	DeleteRecord(ctx context.Context, zoneID string, providerRecordID string) error

	// FindRecord finds a DNS record by type, name, and value.
	// Returns: providerRecordID, error (ErrNotFound if not found)
	FindRecord(ctx context.Context, zoneID string, recordType string, name string, value string) (providerRecordID string, err error)
}
