package models

import "time"

// AdsAccount caches one Google Ads account accessible to a connected customer.
// Rows are replaced on each sync and dropped entirely on disconnect.
type AdsAccount struct {
	ID              int       `json:"id" gorm:"primaryKey;autoIncrement"`
	CustomerID      int       `json:"customer_id" gorm:"not null;index"`
	ResourceName    string    `json:"resource_name" gorm:"not null"`
	AdsCustomerID   string    `json:"ads_customer_id" gorm:"not null"`
	DescriptiveName string    `json:"descriptive_name"`
	CurrencyCode    string    `json:"currency_code"`
	TimeZone        string    `json:"time_zone"`
	Manager         bool      `json:"manager" gorm:"default:false"`
	SyncedAt        time.Time `json:"synced_at"`
}

// TableName specifies the table name for AdsAccount
func (AdsAccount) TableName() string {
	return "ads_accounts"
}
