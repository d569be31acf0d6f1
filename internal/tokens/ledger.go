package tokens

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/oneclicktag/server/internal/models"
)

// ProviderName is the only OAuth provider this service talks to
const ProviderName = "google"

// Refresher exchanges a refresh token for fresh credentials and revokes
// tokens at the provider
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Revoke(ctx context.Context, token string) error
}

// Ledger is the durable store of per-(customer, provider, scope) OAuth
// credentials with expiry-aware retrieval
type Ledger struct {
	db    *gorm.DB
	oauth Refresher
}

// NewLedger creates a token ledger
func NewLedger(db *gorm.DB, oauth Refresher) *Ledger {
	return &Ledger{db: db, oauth: oauth}
}

// Store upserts a token record for (customer, provider, scope)
func (l *Ledger) Store(ctx context.Context, customerID int, provider, scope string, tok *oauth2.Token) error {
	record := models.IntegrationToken{
		CustomerID:  customerID,
		Provider:    provider,
		Scope:       scope,
		AccessToken: tok.AccessToken,
		UpdatedAt:   time.Now(),
	}
	if tok.RefreshToken != "" {
		refresh := tok.RefreshToken
		record.RefreshToken = &refresh
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		record.ExpiresAt = &expiry
	}

	var existing models.IntegrationToken
	err := l.db.WithContext(ctx).
		Where("customer_id = ? AND provider = ? AND scope = ?", customerID, provider, scope).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return l.db.WithContext(ctx).Create(&record).Error
	}
	if err != nil {
		return fmt.Errorf("failed to load token record: %w", err)
	}

	existing.AccessToken = record.AccessToken
	existing.ExpiresAt = record.ExpiresAt
	existing.UpdatedAt = record.UpdatedAt
	// A refresh response may omit the refresh token; keep the old one then.
	if record.RefreshToken != nil {
		existing.RefreshToken = record.RefreshToken
	}
	return l.db.WithContext(ctx).Save(&existing).Error
}

// Get returns a usable token for (customer, provider, scope), transparently
// refreshing an expired one. An unusable record (expired with no refresh
// token, or one whose refresh the provider rejects) is deleted and (nil, nil)
// returned so callers can proceed degraded.
func (l *Ledger) Get(ctx context.Context, customerID int, provider, scope string) (*models.IntegrationToken, error) {
	var record models.IntegrationToken
	err := l.db.WithContext(ctx).
		Where("customer_id = ? AND provider = ? AND scope = ?", customerID, provider, scope).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record: %w", err)
	}

	if !record.Expired() {
		return &record, nil
	}

	if !record.Refreshable() {
		log.Printf("Tokens: %s/%s token for customer %d expired with no refresh token, purging", provider, scope, customerID)
		l.deleteRecord(ctx, &record)
		return nil, nil
	}

	return l.Refresh(ctx, customerID, provider, scope)
}

// Refresh forces a refresh of the stored token. On provider rejection the
// stale record is deleted and (nil, nil) returned.
func (l *Ledger) Refresh(ctx context.Context, customerID int, provider, scope string) (*models.IntegrationToken, error) {
	var record models.IntegrationToken
	err := l.db.WithContext(ctx).
		Where("customer_id = ? AND provider = ? AND scope = ?", customerID, provider, scope).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record: %w", err)
	}

	if !record.Refreshable() {
		l.deleteRecord(ctx, &record)
		return nil, nil
	}

	fresh, err := l.oauth.Refresh(ctx, *record.RefreshToken)
	if err != nil {
		// The grant was likely revoked at the provider. Purge the record
		// instead of propagating so callers see "not connected".
		log.Printf("Tokens: refresh of %s/%s token for customer %d failed: %v", provider, scope, customerID, err)
		l.deleteRecord(ctx, &record)
		return nil, nil
	}

	record.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		refresh := fresh.RefreshToken
		record.RefreshToken = &refresh
	}
	if !fresh.Expiry.IsZero() {
		expiry := fresh.Expiry
		record.ExpiresAt = &expiry
	} else {
		record.ExpiresAt = nil
	}
	record.UpdatedAt = time.Now()

	if err := l.db.WithContext(ctx).Save(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	return &record, nil
}

// Revoke revokes the token at the provider best-effort and always deletes
// the local record
func (l *Ledger) Revoke(ctx context.Context, customerID int, provider, scope string) error {
	var record models.IntegrationToken
	err := l.db.WithContext(ctx).
		Where("customer_id = ? AND provider = ? AND scope = ?", customerID, provider, scope).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load token record: %w", err)
	}

	revokeTarget := record.AccessToken
	if record.Refreshable() {
		// Revoking the refresh token invalidates the whole grant.
		revokeTarget = *record.RefreshToken
	}
	if err := l.oauth.Revoke(ctx, revokeTarget); err != nil {
		log.Printf("Tokens: provider revoke of %s/%s token for customer %d failed: %v", provider, scope, customerID, err)
	}

	return l.db.WithContext(ctx).Delete(&record).Error
}

// DeleteAll removes every token record of a customer without touching the
// provider
func (l *Ledger) DeleteAll(ctx context.Context, customerID int) error {
	return l.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Delete(&models.IntegrationToken{}).Error
}

func (l *Ledger) deleteRecord(ctx context.Context, record *models.IntegrationToken) {
	if err := l.db.WithContext(ctx).Delete(record).Error; err != nil {
		log.Printf("Tokens: failed to delete unusable token record %d: %v", record.ID, err)
	}
}
