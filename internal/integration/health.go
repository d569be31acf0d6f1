package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oneclicktag/server/internal/models"
)

// TargetStatus is the probe result of one Google product
type TargetStatus struct {
	HasAccess bool      `json:"has_access"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// ConnectionStatus aggregates the three independent probe results. It is
// derived on demand, never stored.
type ConnectionStatus struct {
	Connected   bool         `json:"connected"`
	GoogleEmail string       `json:"google_email,omitempty"`
	Ads         TargetStatus `json:"ads"`
	GTM         TargetStatus `json:"gtm"`
	GA4         TargetStatus `json:"ga4"`
}

// GetConnectionStatus probes Ads, GTM and GA4 access concurrently and
// aggregates the results. It never returns an error alongside a nil status:
// a missing token or a failing probe degrades that target's entry only.
// Concurrent probes for the same customer are collapsed into one.
func (s *Service) GetConnectionStatus(ctx context.Context, customerID int) (*ConnectionStatus, error) {
	v, err, _ := s.probes.Do(fmt.Sprintf("status-%d", customerID), func() (interface{}, error) {
		// Collapsed callers all share this one probe, so it must not die
		// with whichever request happened to start it. Values survive, the
		// cancel signal does not; the step timeout still bounds the probe.
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.stepTimeout)
		defer cancel()
		return s.probeConnection(probeCtx, customerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ConnectionStatus), nil
}

func (s *Service) probeConnection(ctx context.Context, customerID int) (*ConnectionStatus, error) {
	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	status := &ConnectionStatus{
		Connected: customer.IsConnected(),
		Ads:       TargetStatus{CheckedAt: now},
		GTM:       TargetStatus{CheckedAt: now},
		GA4:       TargetStatus{CheckedAt: now},
	}
	if customer.GoogleEmail != nil {
		status.GoogleEmail = *customer.GoogleEmail
	}

	// The three targets are independent failure domains; probe them
	// concurrently and assemble positionally. Each branch owns its errors.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		status.Ads = s.probeAds(ctx, customer)
	}()
	go func() {
		defer wg.Done()
		status.GTM = s.probeGTM(ctx, customer)
	}()
	go func() {
		defer wg.Done()
		status.GA4 = s.probeGA4(ctx, customer)
	}()
	wg.Wait()

	return status, nil
}

func (s *Service) probeAds(ctx context.Context, customer *models.Customer) TargetStatus {
	result := TargetStatus{CheckedAt: time.Now()}

	token, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeAds)
	if err != nil {
		result.Error = classifyProviderError("Google Ads", err)
		return result
	}
	if token == nil {
		result.Error = "Google Ads is not configured"
		return result
	}
	if customer.AdsCustomerID == nil || *customer.AdsCustomerID == "" {
		result.Error = "No Google Ads account has been linked"
		return result
	}

	if err := s.ads.VerifyAccess(ctx, token.AccessToken, *customer.AdsCustomerID); err != nil {
		result.Error = classifyProviderError("Google Ads", err)
		return result
	}
	result.HasAccess = true
	return result
}

func (s *Service) probeGTM(ctx context.Context, customer *models.Customer) TargetStatus {
	result := TargetStatus{CheckedAt: time.Now()}

	token, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeGTM)
	if err != nil {
		result.Error = classifyProviderError("Tag Manager", err)
		return result
	}
	if token == nil {
		result.Error = "Tag Manager is not configured"
		return result
	}
	if customer.GTMAccountID == nil || customer.GTMContainerID == nil || customer.GTMWorkspaceID == nil {
		result.Error = "Tag Manager resources have not been provisioned"
		return result
	}

	verify := s.gtm.Verify(ctx, token.AccessToken, *customer.GTMAccountID, *customer.GTMContainerID, *customer.GTMWorkspaceID)
	if !verify.Valid {
		if len(verify.Errors) > 0 {
			result.Error = verify.Errors[0]
		} else {
			result.Error = "Tag Manager verification failed"
		}
		return result
	}
	result.HasAccess = true
	return result
}

func (s *Service) probeGA4(ctx context.Context, customer *models.Customer) TargetStatus {
	result := TargetStatus{CheckedAt: time.Now()}

	token, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeGA4)
	if err != nil {
		result.Error = classifyProviderError("Analytics", err)
		return result
	}
	if token == nil {
		result.Error = "Analytics is not configured"
		return result
	}
	if customer.GA4PropertyID == nil || *customer.GA4PropertyID == "" {
		result.Error = "No Analytics property has been provisioned"
		return result
	}

	verify := s.ga4.Verify(ctx, token.AccessToken, *customer.GA4PropertyID)
	if !verify.Valid {
		result.Error = verify.Error
		return result
	}
	result.HasAccess = true
	return result
}
