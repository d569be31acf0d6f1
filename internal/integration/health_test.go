package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStatusHealthy(t *testing.T) {
	env := newTestEnv(t)
	customer := connectCustomer(t, env)

	status, err := env.svc.GetConnectionStatus(context.Background(), customer.ID)
	require.NoError(t, err)

	assert.True(t, status.Connected)
	assert.Equal(t, "owner@acme.test", status.GoogleEmail)
	assert.True(t, status.Ads.HasAccess)
	assert.True(t, status.GTM.HasAccess)
	assert.True(t, status.GA4.HasAccess)
	assert.Empty(t, status.Ads.Error)
	assert.Empty(t, status.GTM.Error)
	assert.Empty(t, status.GA4.Error)
}

func TestConnectionStatusNotConnected(t *testing.T) {
	env := newTestEnv(t)
	customer := env.seedCustomer(t)

	status, err := env.svc.GetConnectionStatus(context.Background(), customer.ID)
	require.NoError(t, err)

	assert.False(t, status.Connected)
	assert.False(t, status.Ads.HasAccess)
	assert.False(t, status.GTM.HasAccess)
	assert.False(t, status.GA4.HasAccess)
	assert.Contains(t, status.Ads.Error, "not configured")
	assert.Contains(t, status.GTM.Error, "not configured")
	assert.Contains(t, status.GA4.Error, "not configured")
}

// One product losing access must not contaminate the other two probes.
func TestConnectionStatusIsolatesFailingTarget(t *testing.T) {
	env := newTestEnv(t)
	customer := connectCustomer(t, env)

	// The Ads account stops being queryable (permission revoked in Ads UI).
	delete(env.adsF.customers, "111")

	status, err := env.svc.GetConnectionStatus(context.Background(), customer.ID)
	require.NoError(t, err)

	assert.True(t, status.Connected)
	assert.False(t, status.Ads.HasAccess)
	assert.NotEmpty(t, status.Ads.Error)
	assert.True(t, status.GTM.HasAccess)
	assert.True(t, status.GA4.HasAccess)
}

func TestConnectionStatusDetectsRemovedWorkspace(t *testing.T) {
	env := newTestEnv(t)
	customer := connectCustomer(t, env)

	// Workspace vanishes from GTM entirely.
	env.tm.workspaces = nil

	status, err := env.svc.GetConnectionStatus(context.Background(), customer.ID)
	require.NoError(t, err)

	assert.False(t, status.GTM.HasAccess)
	assert.Contains(t, status.GTM.Error, "workspace")
	assert.True(t, status.Ads.HasAccess)
	assert.True(t, status.GA4.HasAccess)
}

// A probe is shared by every caller that collapses into it, so the request
// that started it going away must not poison the result for the rest.
func TestConnectionStatusSurvivesCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	customer := connectCustomer(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := env.svc.GetConnectionStatus(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, status.Ads.HasAccess)
	assert.True(t, status.GTM.HasAccess)
	assert.True(t, status.GA4.HasAccess)
}

func TestConnectionStatusUnknownCustomer(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GetConnectionStatus(context.Background(), 999)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}
