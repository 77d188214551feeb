package model

import (
	"time"

	"gorm.io/datatypes"
)

// CertificateOrder represents one in-flight issuance attempt for a
// ServiceIdentity. At most one non-terminal order may exist per identity at
// any time; the rotation scheduler enforces this before starting work.
type CertificateOrder struct {
	ID         int    `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderUID   string `gorm:"type:varchar(36);not null;uniqueIndex" json:"orderUid"`
	IdentityID int    `gorm:"not null;index" json:"identityId"`
	Hostname   string `gorm:"type:varchar(255);not null" json:"hostname"`
	State      string `gorm:"type:varchar(32);not null;default:created;index" json:"state"`
	Attempts   int    `gorm:"not null;default:0" json:"attempts"`
	LastError  string `gorm:"type:varchar(255)" json:"lastError"`

	// ChallengeJSON holds the serialized ChallengeRecord while the DNS-01
	// challenge is live, so an interrupted workflow can still be cleaned up.
	ChallengeJSON      datatypes.JSON `gorm:"column:challenge_json" json:"challenge"`
	ChallengeRemovedAt *time.Time     `json:"challengeRemovedAt"`

	ResultRecordID *int       `gorm:"index" json:"resultRecordId"` // Reference to certificate_records.id
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
}

// TableName specifies the table name for CertificateOrder
func (CertificateOrder) TableName() string {
	return "certificate_orders"
}

// CertificateOrder state machine:
// created -> challenge_published -> validating -> valid|invalid -> finalizing -> issued|failed
const (
	OrderStateCreated            = "created"
	OrderStateChallengePublished = "challenge_published"
	OrderStateValidating         = "validating"
	OrderStateValid              = "valid"
	OrderStateInvalid            = "invalid"
	OrderStateFinalizing         = "finalizing"
	OrderStateIssued             = "issued"
	OrderStateFailed             = "failed"
)

// NonTerminalOrderStates lists the states in which an order still owns its
// identity's issuance slot.
var NonTerminalOrderStates = []string{
	OrderStateCreated,
	OrderStateChallengePublished,
	OrderStateValidating,
	OrderStateValid,
	OrderStateInvalid,
	OrderStateFinalizing,
}

// IsTerminalOrderState reports whether state is issued or failed.
func IsTerminalOrderState(state string) bool {
	return state == OrderStateIssued || state == OrderStateFailed
}
