package models

import "time"

// Customer represents a customer record that can be linked to a Google identity.
// The Google account link and the account-level GTM/GA4/Ads references live on
// the customer; per-tracking references live on Tracking.
type Customer struct {
	ID     int    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID int    `json:"user_id" gorm:"not null;index"`
	Name   string `json:"name" gorm:"not null"`
	Domain string `json:"domain"`

	// Google account link, set on first successful token exchange and
	// cleared (not the customer) on disconnect.
	GoogleAccountID *string `json:"google_account_id"`
	GoogleEmail     *string `json:"google_email"`

	// External resource references remembered so repeated connects never
	// create duplicate resources.
	GTMAccountID     *string `json:"gtm_account_id"`
	GTMContainerID   *string `json:"gtm_container_id"`
	GTMWorkspaceID   *string `json:"gtm_workspace_id"`
	GA4PropertyID    *string `json:"ga4_property_id"`
	GA4MeasurementID *string `json:"ga4_measurement_id"`
	AdsCustomerID    *string `json:"ads_customer_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships (optional, for eager loading)
	Trackings []Tracking `json:"-" gorm:"foreignKey:CustomerID"`
}

// TableName specifies the table name for Customer
func (Customer) TableName() string {
	return "customers"
}

// IsConnected reports whether the customer has a linked Google account
func (c *Customer) IsConnected() bool {
	return c.GoogleAccountID != nil && *c.GoogleAccountID != ""
}
