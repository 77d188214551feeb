package model

import (
	"time"

	"gorm.io/datatypes"
)

// CertificateRecord is the durable issuance artifact: certificate chain plus
// sealed private key, versioned append-only per identity. A record is never
// edited; rotation inserts a new version that supersedes the old one.
//
// The private key is sealed with the store's master key before the row is
// written, so a row never exists with a readable key and no certificate or
// vice versa: both halves land in one INSERT or not at all.
type CertificateRecord struct {
	ID         int    `gorm:"primaryKey;autoIncrement" json:"id"`
	IdentityID int    `gorm:"not null;uniqueIndex:idx_identity_version" json:"identityId"`
	Version    int    `gorm:"not null;uniqueIndex:idx_identity_version" json:"version"`
	Hostname   string `gorm:"type:varchar(255);not null" json:"hostname"`

	CertPem   string `gorm:"type:text;not null" json:"certPem"`
	ChainPem  string `gorm:"type:text;not null" json:"chainPem"`
	KeySealed string `gorm:"type:text;not null" json:"-"` // base64(nonce || secretbox)

	Issuer          string         `gorm:"type:varchar(255);not null" json:"issuer"`
	Fingerprint     string         `gorm:"type:varchar(64);not null;index" json:"fingerprint"` // SHA-256 of leaf DER
	SubjectAltNames datatypes.JSON `gorm:"column:sans_json" json:"subjectAltNames"`

	IssuedAt  time.Time `gorm:"not null" json:"issuedAt"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expiresAt"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName specifies the table name for CertificateRecord
func (CertificateRecord) TableName() string {
	return "certificate_records"
}
