package models

import (
	"strings"
	"time"
)

// Tracking types, each mapping to a distinct GTM trigger type
const (
	TrackingTypeClick             = "click"
	TrackingTypePageView          = "page_view"
	TrackingTypeFormSubmit        = "form_submit"
	TrackingTypeElementVisibility = "element_visibility"
)

// Tracking statuses
const (
	TrackingStatusPending = "PENDING"
	TrackingStatusActive  = "ACTIVE"
	TrackingStatusFailed  = "FAILED"
)

// Tracking destinations
const (
	DestinationAds = "ADS"
	DestinationGA4 = "GA4"
)

// Tracking represents one provisioned tracking configuration. It owns the
// external ids of the trigger, tags and conversion action created for it.
type Tracking struct {
	ID         int    `json:"id" gorm:"primaryKey;autoIncrement"`
	CustomerID int    `json:"customer_id" gorm:"not null;index"`
	Name       string `json:"name" gorm:"not null"`
	Type       string `json:"type" gorm:"not null"`
	Selector   string `json:"selector"`
	URLPattern string `json:"url_pattern"`

	// Comma-separated subset of ADS,GA4
	DestinationsRaw string `json:"-" gorm:"column:destinations;not null"`

	Status       string  `json:"status" gorm:"not null;default:'PENDING';index"`
	ErrorMessage *string `json:"error_message"`

	GTMTriggerID       *string `json:"gtm_trigger_id"`
	GTMTagID           *string `json:"gtm_tag_id"`
	GA4TagID           *string `json:"ga4_tag_id"`
	ConversionActionID *string `json:"conversion_action_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Tracking
func (Tracking) TableName() string {
	return "trackings"
}

// Destinations returns the destination set as a slice
func (t *Tracking) Destinations() []string {
	if t.DestinationsRaw == "" {
		return nil
	}
	return strings.Split(t.DestinationsRaw, ",")
}

// SetDestinations stores the destination set
func (t *Tracking) SetDestinations(dests []string) {
	t.DestinationsRaw = strings.Join(dests, ",")
}

// HasDestination reports whether the tracking targets the given destination
func (t *Tracking) HasDestination(dest string) bool {
	for _, d := range t.Destinations() {
		if d == dest {
			return true
		}
	}
	return false
}
