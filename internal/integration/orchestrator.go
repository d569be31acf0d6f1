package integration

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/oneclicktag/server/internal/models"
	"github.com/oneclicktag/server/internal/progress"
	"github.com/oneclicktag/server/internal/reconcile"
)

// GetAuthURL returns the Google consent screen URL for a customer. The state
// parameter carries the customer id so the callback can route the code back.
func (s *Service) GetAuthURL(ctx context.Context, customerID int) (string, error) {
	if _, err := s.loadCustomer(ctx, customerID); err != nil {
		return "", err
	}
	state := fmt.Sprintf("%d:%s", customerID, uuid.NewString())
	return s.oauth.AuthURL(state), nil
}

// Connect drives the full connect sequence:
// oauth → tokens → ads → ga4 → gtm → complete. The first two steps are fatal;
// the three product steps are soft, so one failing product never blocks the
// others. The progress channel always ends closed, after either a complete
// or an error event.
func (s *Service) Connect(ctx context.Context, customerID int, code string) (*models.Customer, error) {
	if !s.locks.TryLock(customerID) {
		return nil, ErrAlreadyInProgress
	}
	defer s.locks.Unlock(customerID)

	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	s.broker.Open(customerID)
	defer s.broker.Close(customerID)

	// Step 1: exchange the authorization code. Fatal.
	s.publish(customerID, progress.Event{Step: progress.StepOAuth, Status: progress.StatusPending, Message: "Signing in with Google"})

	exchangeCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	token, err := s.oauth.Exchange(exchangeCtx, code)
	cancel()
	if err != nil {
		return nil, s.failConnect(customerID, progress.StepOAuth, exchangeFailureMessage(err), err)
	}

	// Step 2: resolve the Google identity behind the grant. Fatal.
	infoCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	userInfo, err := s.oauth.UserInfo(infoCtx, token.AccessToken)
	cancel()
	if err != nil {
		return nil, s.failConnect(customerID, progress.StepOAuth, "Could not read the Google account identity.", err)
	}

	customer.GoogleAccountID = &userInfo.Subject
	customer.GoogleEmail = &userInfo.Email
	if err := s.db.WithContext(ctx).Save(customer).Error; err != nil {
		return nil, s.failConnect(customerID, progress.StepOAuth, "Failed to store the Google account link.", err)
	}
	s.publish(customerID, progress.Event{Step: progress.StepOAuth, Status: progress.StatusSuccess, Message: fmt.Sprintf("Signed in as %s", userInfo.Email)})

	// Step 3: persist three independent token records from the one grant,
	// so each product can be refreshed and revoked on its own. Fatal.
	s.publish(customerID, progress.Event{Step: progress.StepTokens, Status: progress.StatusPending, Message: "Storing credentials"})
	for _, scope := range []string{models.ScopeAds, models.ScopeGTM, models.ScopeGA4} {
		if err := s.ledger.Store(ctx, customerID, "google", scope, token); err != nil {
			return nil, s.failConnect(customerID, progress.StepTokens, "Failed to store Google credentials.", err)
		}
	}
	s.publish(customerID, progress.Event{Step: progress.StepTokens, Status: progress.StatusSuccess, Message: "Credentials stored"})

	// Steps 4-6: product provisioning. Soft: a failure degrades the step's
	// event but the flow advances, since tracking can still target the
	// destinations that succeeded.
	s.softStep(ctx, customerID, progress.StepAds, "Google Ads account linked", func(stepCtx context.Context) error {
		return s.connectAds(stepCtx, customer)
	})
	s.softStep(ctx, customerID, progress.StepGA4, "Analytics property ready", func(stepCtx context.Context) error {
		return s.connectGA4(stepCtx, customer)
	})
	s.softStep(ctx, customerID, progress.StepGTM, "Tag Manager setup complete", func(stepCtx context.Context) error {
		return s.connectGTM(stepCtx, customer)
	})

	s.publish(customerID, progress.Event{Step: progress.StepComplete, Status: progress.StatusSuccess, Message: "Google connection complete"})

	return s.loadCustomer(ctx, customerID)
}

// failConnect emits the step error and terminal error events and wraps the
// cause into a ConnectError. Used only for fatal steps.
func (s *Service) failConnect(customerID int, step, message string, err error) error {
	log.Printf("Connect: fatal failure for customer %d at %s: %v", customerID, step, err)
	s.publish(customerID, progress.Event{Step: step, Status: progress.StatusError, Message: message, Error: err.Error()})
	s.publish(customerID, progress.Event{Step: progress.StepError, Status: progress.StatusError, Message: message})
	return &ConnectError{Step: step, Message: message, Err: err}
}

// softStep runs one provisioning step under its own deadline, degrading a
// failure to an error-status event instead of aborting the flow
func (s *Service) softStep(ctx context.Context, customerID int, step, successMessage string, fn func(context.Context) error) {
	s.publish(customerID, progress.Event{Step: step, Status: progress.StatusPending, Message: fmt.Sprintf("Setting up %s", step)})

	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	if err := fn(stepCtx); err != nil {
		log.Printf("Connect: %s step failed for customer %d: %v", step, customerID, err)
		s.publish(customerID, progress.Event{
			Step:    step,
			Status:  progress.StatusError,
			Message: classifyProviderError(step, err),
			Error:   err.Error(),
		})
		return
	}
	s.publish(customerID, progress.Event{Step: step, Status: progress.StatusSuccess, Message: successMessage})
}

// connectAds syncs the accessible Ads accounts into the local cache and
// records the default (first non-manager) account on the customer
func (s *Service) connectAds(ctx context.Context, customer *models.Customer) error {
	token, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeAds)
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("ads token missing")
	}

	accounts, err := s.ads.SyncAccounts(ctx, token.AccessToken)
	if err != nil {
		return err
	}

	// Replace the cached rows wholesale; the sync result is authoritative.
	if err := s.db.WithContext(ctx).Where("customer_id = ?", customer.ID).Delete(&models.AdsAccount{}).Error; err != nil {
		return err
	}
	now := time.Now()
	for _, account := range accounts {
		row := models.AdsAccount{
			CustomerID:      customer.ID,
			ResourceName:    account.ResourceName,
			AdsCustomerID:   account.ID,
			DescriptiveName: account.DescriptiveName,
			CurrencyCode:    account.CurrencyCode,
			TimeZone:        account.TimeZone,
			Manager:         account.Manager,
			SyncedAt:        now,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}
	}

	if customer.AdsCustomerID == nil {
		for _, account := range accounts {
			if !account.Manager {
				id := account.ID
				customer.AdsCustomerID = &id
				break
			}
		}
	}
	return s.db.WithContext(ctx).Save(customer).Error
}

// RefreshAdsAccounts re-syncs the accessible Ads accounts cache on demand
func (s *Service) RefreshAdsAccounts(ctx context.Context, customerID int) error {
	if !s.locks.TryLock(customerID) {
		return ErrAlreadyInProgress
	}
	defer s.locks.Unlock(customerID)

	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if !customer.IsConnected() {
		return ErrNotConnected
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	return s.connectAds(syncCtx, customer)
}

// connectGA4 resolves the managed Analytics property (find, restore from
// trash, or create) and records its refs on the customer
func (s *Service) connectGA4(ctx context.Context, customer *models.Customer) error {
	token, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeGA4)
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("ga4 token missing")
	}

	defaultURI := ""
	if customer.Domain != "" {
		defaultURI = "https://" + customer.Domain
	}
	result, err := s.ga4.EnsureProperty(ctx, token.AccessToken, customer.Name, defaultURI)
	if err != nil {
		return err
	}
	log.Printf("Connect: GA4 property for customer %d resolved (%s): %s", customer.ID, result.Outcome, result.PropertyName)

	customer.GA4PropertyID = &result.PropertyName
	customer.GA4MeasurementID = &result.MeasurementID
	return s.db.WithContext(ctx).Save(customer).Error
}

// connectGTM provisions the managed Tag Manager essentials: container,
// dedicated workspace, built-in and custom variables, the all-pages trigger
// and the conversion-linker tag
func (s *Service) connectGTM(ctx context.Context, customer *models.Customer) error {
	token, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeGTM)
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("gtm token missing")
	}
	accessToken := token.AccessToken

	account, err := s.gtm.FirstAccount(ctx, accessToken)
	if err != nil {
		return err
	}

	container, err := s.gtm.EnsureContainer(ctx, accessToken, account.AccountID, customer.Name)
	if err != nil {
		return err
	}

	containerPath := reconcile.ContainerPath(account.AccountID, container.ContainerID)
	workspace, err := s.gtm.EnsureWorkspace(ctx, accessToken, containerPath)
	if err != nil {
		return err
	}
	workspacePath := reconcile.WorkspacePath(account.AccountID, container.ContainerID, workspace.WorkspaceID)

	if err := s.gtm.EnsureBuiltInVariables(ctx, accessToken, workspacePath); err != nil {
		return err
	}
	if err := s.gtm.EnsureCustomVariables(ctx, accessToken, workspacePath); err != nil {
		return err
	}

	trigger, err := s.gtm.EnsureAllPagesTrigger(ctx, accessToken, workspacePath)
	if err != nil {
		return err
	}
	if _, err := s.gtm.EnsureConversionLinkerTag(ctx, accessToken, workspacePath, trigger.TriggerID); err != nil {
		return err
	}

	customer.GTMAccountID = &account.AccountID
	customer.GTMContainerID = &container.ContainerID
	customer.GTMWorkspaceID = &workspace.WorkspaceID
	return s.db.WithContext(ctx).Save(customer).Error
}
