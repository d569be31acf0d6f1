package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/oneclicktag/server/internal/google"
)

// AdsAPI is the slice of the Google Ads API the reconciler consumes
type AdsAPI interface {
	ListAccessibleCustomers(ctx context.Context, token string) ([]string, error)
	GetCustomer(ctx context.Context, token, customerID string) (*google.AdsCustomer, error)
	ListConversionActions(ctx context.Context, token, customerID string) ([]google.ConversionAction, error)
	CreateConversionAction(ctx context.Context, token, customerID, name string) (*google.ConversionAction, error)
	DeleteConversionAction(ctx context.Context, token, customerID, resourceName string) error
}

// Ads reconciles Google Ads accounts and conversion actions
type Ads struct {
	api AdsAPI
}

// NewAds creates an Ads reconciler
func NewAds(api AdsAPI) *Ads {
	return &Ads{api: api}
}

// SyncAccounts lists the accessible Ads accounts and resolves each one's
// metadata. An account whose metadata query fails is skipped with a log line
// instead of failing the sync: manager-linked accounts routinely reject
// direct queries.
func (r *Ads) SyncAccounts(ctx context.Context, token string) ([]google.AdsCustomer, error) {
	resourceNames, err := r.api.ListAccessibleCustomers(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(resourceNames) == 0 {
		return nil, fmt.Errorf("no Google Ads account accessible with this Google account")
	}

	accounts := make([]google.AdsCustomer, 0, len(resourceNames))
	for _, resourceName := range resourceNames {
		customerID := google.CustomerIDFromResourceName(resourceName)
		account, err := r.api.GetCustomer(ctx, token, customerID)
		if err != nil {
			log.Printf("Ads: skipping account %s, metadata query failed: %v", customerID, err)
			continue
		}
		accounts = append(accounts, *account)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("none of the %d accessible Ads accounts could be queried", len(resourceNames))
	}
	return accounts, nil
}

// VerifyAccess confirms the Ads account is still queryable with the token
func (r *Ads) VerifyAccess(ctx context.Context, token, customerID string) error {
	_, err := r.api.GetCustomer(ctx, token, customerID)
	return err
}

// EnsureConversionAction returns the conversion action with the given name,
// creating it if absent
func (r *Ads) EnsureConversionAction(ctx context.Context, token, customerID, name string) (*google.ConversionAction, error) {
	existing, err := r.api.ListConversionActions(ctx, token, customerID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].Name == name {
			return &existing[i], nil
		}
	}
	return r.api.CreateConversionAction(ctx, token, customerID, name)
}

// DeleteConversionAction removes a conversion action by resource name
func (r *Ads) DeleteConversionAction(ctx context.Context, token, customerID, resourceName string) error {
	return r.api.DeleteConversionAction(ctx, token, customerID, resourceName)
}
