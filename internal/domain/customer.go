package domain

import "time"

// ServiceTier is the managed-service tier a customer is subscribed to.
type ServiceTier string

const (
	TierEssential ServiceTier = "essential"
	TierStandard  ServiceTier = "standard"
	TierPremium   ServiceTier = "premium"
)

// Customer represents a managed-services customer.
type Customer struct {
	ID                     string      `gorm:"type:text;primaryKey" json:"id"`
	Name                   string      `gorm:"type:text;not null" json:"name"`
	Tier                   ServiceTier `gorm:"type:text;default:standard" json:"tier"`
	AssessmentIntervalDays int         `gorm:"default:30" json:"assessment_interval_days"`
	LastAssessedAt         *time.Time  `json:"last_assessed_at,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string {
	return "customers"
}

// CloudConnection holds the coordinates of one customer cloud tenant.
// ClientSecretRef points into an external secret store; the secret value
// itself is never persisted here.
type CloudConnection struct {
	ID              string     `gorm:"type:text;primaryKey" json:"id"`
	CustomerID      string     `gorm:"type:text;not null;index" json:"customer_id"`
	Name            string     `gorm:"type:text;not null" json:"name"`
	TenantID        string     `gorm:"type:text;not null" json:"tenant_id"`
	SubscriptionID  string     `gorm:"type:text;not null" json:"subscription_id"`
	ClientID        string     `gorm:"type:text;not null" json:"client_id"`
	ClientSecretRef string     `gorm:"type:text;not null" json:"client_secret_ref"`
	IsEnabled       bool       `gorm:"default:true" json:"is_enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastVerifiedAt  *time.Time `json:"last_verified_at,omitempty"`
}

// TableName returns the database table name for CloudConnection.
func (CloudConnection) TableName() string {
	return "cloud_connections"
}
