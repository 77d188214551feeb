package model

// ServiceIdentity represents a mesh participant mapped 1:1 to a hostname
// under the managed zone. Identities are seeded from configuration and are
// immutable for the lifetime of a deployment generation.
type ServiceIdentity struct {
	BaseModel
	Name                string `gorm:"type:varchar(128);not null;uniqueIndex" json:"name"`
	Hostname            string `gorm:"type:varchar(255);not null;uniqueIndex" json:"hostname"`
	Status              string `gorm:"type:varchar(20);not null;default:active" json:"status"` // active|degraded
	ConsecutiveFailures int    `gorm:"not null;default:0" json:"consecutiveFailures"`
	LastError           string `gorm:"type:varchar(255)" json:"lastError"`
}

// TableName specifies the table name for ServiceIdentity
func (ServiceIdentity) TableName() string {
	return "service_identities"
}

// ServiceIdentity status constants
const (
	IdentityStatusActive   = "active"
	IdentityStatusDegraded = "degraded"
)
