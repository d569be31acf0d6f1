package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneclicktag/server/internal/models"
)

// connectCustomer runs a full connect and returns the linked customer
func connectCustomer(t *testing.T, env *testEnv) *models.Customer {
	t.Helper()
	customer := env.seedCustomer(t)
	connected, err := env.svc.Connect(context.Background(), customer.ID, "code-1")
	require.NoError(t, err)
	return connected
}

func TestDisconnectPurgesEverything(t *testing.T) {
	env := newTestEnv(t)
	customer := connectCustomer(t, env)
	ctx := context.Background()

	// Provision a tracking so external resources exist to clean up.
	tracking, err := env.svc.CreateTracking(ctx, customer.ID, TrackingRequest{
		Name:         "Signup",
		Type:         models.TrackingTypeClick,
		Selector:     "#signup",
		Destinations: []string{models.DestinationAds, models.DestinationGA4},
	})
	require.NoError(t, err)
	require.Equal(t, models.TrackingStatusActive, tracking.Status)

	disconnected, err := env.svc.Disconnect(ctx, customer.ID)
	require.NoError(t, err)

	// All link and resource refs are cleared; the customer record survives.
	assert.Nil(t, disconnected.GoogleAccountID)
	assert.Nil(t, disconnected.GoogleEmail)
	assert.Nil(t, disconnected.GTMAccountID)
	assert.Nil(t, disconnected.GTMContainerID)
	assert.Nil(t, disconnected.GTMWorkspaceID)
	assert.Nil(t, disconnected.GA4PropertyID)
	assert.Nil(t, disconnected.GA4MeasurementID)
	assert.Nil(t, disconnected.AdsCustomerID)
	assert.Equal(t, "Acme", disconnected.Name)

	// Local rows are purged.
	var trackingCount, tokenCount, accountCount int64
	env.db.Model(&models.Tracking{}).Count(&trackingCount)
	env.db.Model(&models.IntegrationToken{}).Count(&tokenCount)
	env.db.Model(&models.AdsAccount{}).Count(&accountCount)
	assert.Equal(t, int64(0), trackingCount)
	assert.Equal(t, int64(0), tokenCount)
	assert.Equal(t, int64(0), accountCount)

	// External resources were deleted: the tracking's two tags, its trigger
	// and its conversion action.
	assert.Len(t, env.tm.deletedPaths, 3)
	assert.Len(t, env.adsF.deletedActions, 1)

	// Tokens were revoked at the provider.
	assert.NotEmpty(t, env.oauth.revoked)
}

func TestDisconnectCompletesWhenExternalDeletesFail(t *testing.T) {
	env := newTestEnv(t)
	customer := connectCustomer(t, env)
	ctx := context.Background()

	_, err := env.svc.CreateTracking(ctx, customer.ID, TrackingRequest{
		Name:         "Signup",
		Type:         models.TrackingTypeClick,
		Destinations: []string{models.DestinationAds, models.DestinationGA4},
	})
	require.NoError(t, err)

	// Every external teardown call fails; the local purge must not care.
	env.tm.deleteErr = errors.New("workspace is locked")
	env.adsF.deleteActionErr = errors.New("mutate rejected")
	env.oauth.revokeErr = errors.New("revocation endpoint unavailable")

	disconnected, err := env.svc.Disconnect(ctx, customer.ID)
	require.NoError(t, err)

	assert.Nil(t, disconnected.GoogleAccountID)
	assert.Nil(t, disconnected.GoogleEmail)
	assert.Nil(t, disconnected.GTMWorkspaceID)
	assert.Nil(t, disconnected.GA4PropertyID)
	assert.Nil(t, disconnected.AdsCustomerID)

	var trackingCount, tokenCount, accountCount int64
	env.db.Model(&models.Tracking{}).Count(&trackingCount)
	env.db.Model(&models.IntegrationToken{}).Count(&tokenCount)
	env.db.Model(&models.AdsAccount{}).Count(&accountCount)
	assert.Equal(t, int64(0), trackingCount)
	assert.Equal(t, int64(0), tokenCount)
	assert.Equal(t, int64(0), accountCount)

	// Nothing was deleted or revoked externally.
	assert.Empty(t, env.tm.deletedPaths)
	assert.Empty(t, env.adsF.deletedActions)
	assert.Empty(t, env.oauth.revoked)
}

func TestDisconnectWithoutExternalResources(t *testing.T) {
	env := newTestEnv(t)
	customer := env.seedCustomer(t)

	// Never connected: disconnect still succeeds and leaves a clean record.
	disconnected, err := env.svc.Disconnect(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.Nil(t, disconnected.GoogleAccountID)
	assert.Empty(t, env.tm.deletedPaths)
	assert.Empty(t, env.adsF.deletedActions)
}

func TestDisconnectUnknownCustomer(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Disconnect(context.Background(), 999)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestDisconnectAllowsReconnect(t *testing.T) {
	env := newTestEnv(t)
	customer := connectCustomer(t, env)
	ctx := context.Background()

	_, err := env.svc.Disconnect(ctx, customer.ID)
	require.NoError(t, err)

	reconnected, err := env.svc.Connect(ctx, customer.ID, "code-2")
	require.NoError(t, err)
	require.NotNil(t, reconnected.GoogleAccountID)
	require.NotNil(t, reconnected.GTMWorkspaceID)
}
