package integration

import (
	"context"
	"log"

	"github.com/oneclicktag/server/internal/models"
	"github.com/oneclicktag/server/internal/reconcile"
)

// Disconnect tears the integration down: best-effort external cleanup first,
// while the resource references are still known, then an unconditional local
// purge. Whatever the external APIs do, the customer always ends up locally
// disconnected.
func (s *Service) Disconnect(ctx context.Context, customerID int) (*models.Customer, error) {
	if !s.locks.TryLock(customerID) {
		return nil, ErrAlreadyInProgress
	}
	defer s.locks.Unlock(customerID)

	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	var trackings []models.Tracking
	if err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).Find(&trackings).Error; err != nil {
		log.Printf("Disconnect: failed to load trackings for customer %d: %v", customerID, err)
	}

	// Phase 1: best-effort GTM cleanup, log-and-continue per tracking.
	s.cleanupGTMResources(ctx, customer, trackings)

	// Phase 2: best-effort conversion action cleanup.
	s.cleanupConversionActions(ctx, customer, trackings)

	// Phase 3: unconditional local purge of tracking rows.
	if err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).Delete(&models.Tracking{}).Error; err != nil {
		return nil, err
	}

	// Phase 4: best-effort token revocation; the ledger always deletes the
	// local records even when the provider revoke fails.
	for _, scope := range []string{models.ScopeAds, models.ScopeGTM, models.ScopeGA4} {
		if err := s.ledger.Revoke(ctx, customerID, "google", scope); err != nil {
			log.Printf("Disconnect: failed to revoke %s token for customer %d: %v", scope, customerID, err)
		}
	}
	if err := s.ledger.DeleteAll(ctx, customerID); err != nil {
		log.Printf("Disconnect: failed to purge token records for customer %d: %v", customerID, err)
	}

	// Phase 5: unconditional purge of the Ads account cache.
	if err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).Delete(&models.AdsAccount{}).Error; err != nil {
		return nil, err
	}

	// Phase 6: clear the Google account link and resource refs. The
	// customer record itself survives.
	customer.GoogleAccountID = nil
	customer.GoogleEmail = nil
	customer.GTMAccountID = nil
	customer.GTMContainerID = nil
	customer.GTMWorkspaceID = nil
	customer.GA4PropertyID = nil
	customer.GA4MeasurementID = nil
	customer.AdsCustomerID = nil
	if err := s.db.WithContext(ctx).Save(customer).Error; err != nil {
		return nil, err
	}

	log.Printf("Disconnect: customer %d disconnected from Google", customerID)
	return customer, nil
}

func (s *Service) cleanupGTMResources(ctx context.Context, customer *models.Customer, trackings []models.Tracking) {
	if customer.GTMAccountID == nil || customer.GTMContainerID == nil || customer.GTMWorkspaceID == nil {
		return
	}

	token, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeGTM)
	if err != nil || token == nil {
		log.Printf("Disconnect: no usable GTM token for customer %d, skipping external GTM cleanup", customer.ID)
		return
	}

	workspacePath := reconcile.WorkspacePath(*customer.GTMAccountID, *customer.GTMContainerID, *customer.GTMWorkspaceID)
	for _, tracking := range trackings {
		for _, tagID := range []*string{tracking.GTMTagID, tracking.GA4TagID} {
			if tagID == nil || *tagID == "" {
				continue
			}
			tagPath := workspacePath + "/tags/" + *tagID
			if err := s.gtm.DeleteTag(ctx, token.AccessToken, tagPath); err != nil {
				log.Printf("Disconnect: failed to delete GTM tag %s of tracking %d: %v", *tagID, tracking.ID, err)
			}
		}
		if tracking.GTMTriggerID != nil && *tracking.GTMTriggerID != "" {
			triggerPath := workspacePath + "/triggers/" + *tracking.GTMTriggerID
			if err := s.gtm.DeleteTrigger(ctx, token.AccessToken, triggerPath); err != nil {
				log.Printf("Disconnect: failed to delete GTM trigger %s of tracking %d: %v", *tracking.GTMTriggerID, tracking.ID, err)
			}
		}
	}
}

func (s *Service) cleanupConversionActions(ctx context.Context, customer *models.Customer, trackings []models.Tracking) {
	if customer.AdsCustomerID == nil || *customer.AdsCustomerID == "" {
		return
	}

	token, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeAds)
	if err != nil || token == nil {
		log.Printf("Disconnect: no usable Ads token for customer %d, skipping conversion action cleanup", customer.ID)
		return
	}

	for _, tracking := range trackings {
		if tracking.ConversionActionID == nil || *tracking.ConversionActionID == "" {
			continue
		}
		if err := s.ads.DeleteConversionAction(ctx, token.AccessToken, *customer.AdsCustomerID, *tracking.ConversionActionID); err != nil {
			log.Printf("Disconnect: failed to delete conversion action %s of tracking %d: %v", *tracking.ConversionActionID, tracking.ID, err)
		}
	}
}
