package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oneclicktag/server/internal/models"
)

type fakeRefresher struct {
	refreshed  *oauth2.Token
	refreshErr error
	revokeErr  error
	refreshes  int
	revoked    []string
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

func (f *fakeRefresher) Revoke(ctx context.Context, token string) error {
	f.revoked = append(f.revoked, token)
	return f.revokeErr
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.IntegrationToken{}))
	return db
}

func seedToken(t *testing.T, db *gorm.DB, record models.IntegrationToken) {
	t.Helper()
	require.NoError(t, db.Create(&record).Error)
}

func strPtr(s string) *string { return &s }

func timePtr(tm time.Time) *time.Time { return &tm }

func TestStoreCreatesRecord(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db, &fakeRefresher{})

	err := ledger.Store(context.Background(), 1, ProviderName, models.ScopeAds, &oauth2.Token{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := ledger.Get(context.Background(), 1, ProviderName, models.ScopeAds)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "at-1", got.AccessToken)
	require.NotNil(t, got.RefreshToken)
	assert.Equal(t, "rt-1", *got.RefreshToken)
}

func TestStoreKeepsRefreshTokenWhenOmitted(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db, &fakeRefresher{})
	ctx := context.Background()

	require.NoError(t, ledger.Store(ctx, 1, ProviderName, models.ScopeGTM, &oauth2.Token{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		Expiry:       time.Now().Add(time.Hour),
	}))

	// Refresh responses usually omit the refresh token.
	require.NoError(t, ledger.Store(ctx, 1, ProviderName, models.ScopeGTM, &oauth2.Token{
		AccessToken: "at-2",
		Expiry:      time.Now().Add(time.Hour),
	}))

	got, err := ledger.Get(ctx, 1, ProviderName, models.ScopeGTM)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "at-2", got.AccessToken)
	require.NotNil(t, got.RefreshToken)
	assert.Equal(t, "rt-1", *got.RefreshToken)

	var count int64
	db.Model(&models.IntegrationToken{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestGetReturnsNilForMissingRecord(t *testing.T) {
	ledger := NewLedger(testDB(t), &fakeRefresher{})

	got, err := ledger.Get(context.Background(), 9, ProviderName, models.ScopeGA4)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetRefreshesExpiredToken(t *testing.T) {
	db := testDB(t)
	refresher := &fakeRefresher{refreshed: &oauth2.Token{
		AccessToken: "at-fresh",
		Expiry:      time.Now().Add(time.Hour),
	}}
	ledger := NewLedger(db, refresher)

	seedToken(t, db, models.IntegrationToken{
		CustomerID:   1,
		Provider:     ProviderName,
		Scope:        models.ScopeAds,
		AccessToken:  "at-stale",
		RefreshToken: strPtr("rt-1"),
		ExpiresAt:    timePtr(time.Now().Add(-time.Minute)),
	})

	got, err := ledger.Get(context.Background(), 1, ProviderName, models.ScopeAds)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "at-fresh", got.AccessToken)
	assert.Equal(t, 1, refresher.refreshes)
	// The old refresh token survives the refresh.
	require.NotNil(t, got.RefreshToken)
	assert.Equal(t, "rt-1", *got.RefreshToken)
}

func TestGetPurgesExpiredTokenWithoutRefreshToken(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db, &fakeRefresher{})

	seedToken(t, db, models.IntegrationToken{
		CustomerID:  1,
		Provider:    ProviderName,
		Scope:       models.ScopeGTM,
		AccessToken: "at-stale",
		ExpiresAt:   timePtr(time.Now().Add(-time.Minute)),
	})

	got, err := ledger.Get(context.Background(), 1, ProviderName, models.ScopeGTM)
	require.NoError(t, err)
	assert.Nil(t, got)

	var count int64
	db.Model(&models.IntegrationToken{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestGetPurgesTokenWhenProviderRejectsRefresh(t *testing.T) {
	db := testDB(t)
	refresher := &fakeRefresher{refreshErr: errors.New("invalid_grant")}
	ledger := NewLedger(db, refresher)

	seedToken(t, db, models.IntegrationToken{
		CustomerID:   1,
		Provider:     ProviderName,
		Scope:        models.ScopeGA4,
		AccessToken:  "at-stale",
		RefreshToken: strPtr("rt-revoked"),
		ExpiresAt:    timePtr(time.Now().Add(-time.Minute)),
	})

	got, err := ledger.Get(context.Background(), 1, ProviderName, models.ScopeGA4)
	require.NoError(t, err)
	assert.Nil(t, got)

	var count int64
	db.Model(&models.IntegrationToken{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestGetReturnsUnexpiredTokenWithoutRefreshing(t *testing.T) {
	db := testDB(t)
	refresher := &fakeRefresher{}
	ledger := NewLedger(db, refresher)

	seedToken(t, db, models.IntegrationToken{
		CustomerID:  1,
		Provider:    ProviderName,
		Scope:       models.ScopeAds,
		AccessToken: "at-live",
		ExpiresAt:   timePtr(time.Now().Add(time.Hour)),
	})

	got, err := ledger.Get(context.Background(), 1, ProviderName, models.ScopeAds)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "at-live", got.AccessToken)
	assert.Equal(t, 0, refresher.refreshes)
}

func TestRevokePrefersRefreshTokenAndDeletesLocally(t *testing.T) {
	db := testDB(t)
	refresher := &fakeRefresher{}
	ledger := NewLedger(db, refresher)

	seedToken(t, db, models.IntegrationToken{
		CustomerID:   1,
		Provider:     ProviderName,
		Scope:        models.ScopeAds,
		AccessToken:  "at-1",
		RefreshToken: strPtr("rt-1"),
	})

	require.NoError(t, ledger.Revoke(context.Background(), 1, ProviderName, models.ScopeAds))
	assert.Equal(t, []string{"rt-1"}, refresher.revoked)

	var count int64
	db.Model(&models.IntegrationToken{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestRevokeDeletesLocallyWhenProviderFails(t *testing.T) {
	db := testDB(t)
	refresher := &fakeRefresher{revokeErr: errors.New("unreachable")}
	ledger := NewLedger(db, refresher)

	seedToken(t, db, models.IntegrationToken{
		CustomerID:  1,
		Provider:    ProviderName,
		Scope:       models.ScopeGTM,
		AccessToken: "at-1",
	})

	require.NoError(t, ledger.Revoke(context.Background(), 1, ProviderName, models.ScopeGTM))

	var count int64
	db.Model(&models.IntegrationToken{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestDeleteAllRemovesEveryScope(t *testing.T) {
	db := testDB(t)
	refresher := &fakeRefresher{}
	ledger := NewLedger(db, refresher)

	for _, scope := range []string{models.ScopeAds, models.ScopeGTM, models.ScopeGA4} {
		seedToken(t, db, models.IntegrationToken{
			CustomerID:  1,
			Provider:    ProviderName,
			Scope:       scope,
			AccessToken: "at",
		})
	}
	seedToken(t, db, models.IntegrationToken{
		CustomerID:  2,
		Provider:    ProviderName,
		Scope:       models.ScopeAds,
		AccessToken: "at",
	})

	require.NoError(t, ledger.DeleteAll(context.Background(), 1))
	// No provider calls for a local-only purge.
	assert.Empty(t, refresher.revoked)

	var count int64
	db.Model(&models.IntegrationToken{}).Count(&count)
	assert.Equal(t, int64(1), count)
}
