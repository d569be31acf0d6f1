package models

import "time"

// Token scopes. One OAuth grant produces three independent records so each
// product's access can be refreshed and revoked on its own.
const (
	ScopeAds = "ads"
	ScopeGTM = "gtm"
	ScopeGA4 = "ga4"
)

// IntegrationToken stores per-(customer, provider, scope) OAuth credentials
type IntegrationToken struct {
	ID           int        `json:"id" gorm:"primaryKey;autoIncrement"`
	CustomerID   int        `json:"customer_id" gorm:"not null;uniqueIndex:idx_tokens_customer_provider_scope"`
	Provider     string     `json:"provider" gorm:"not null;uniqueIndex:idx_tokens_customer_provider_scope"`
	Scope        string     `json:"scope" gorm:"not null;uniqueIndex:idx_tokens_customer_provider_scope"`
	AccessToken  string     `json:"-" gorm:"not null"`
	RefreshToken *string    `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName specifies the table name for IntegrationToken
func (IntegrationToken) TableName() string {
	return "integration_tokens"
}

// Expired reports whether the access token is past its expiry
func (t *IntegrationToken) Expired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}

// Refreshable reports whether the token can be refreshed
func (t *IntegrationToken) Refreshable() bool {
	return t.RefreshToken != nil && *t.RefreshToken != ""
}
