package integration

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/oneclicktag/server/internal/google"
	"github.com/oneclicktag/server/internal/models"
	"github.com/oneclicktag/server/internal/reconcile"
)

// TrackingRequest is a request to provision one tracking
type TrackingRequest struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Selector     string   `json:"selector,omitempty"`
	URLPattern   string   `json:"url_pattern,omitempty"`
	Destinations []string `json:"destinations"`
}

// Validate checks the request shape before any external call is made
func (r *TrackingRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("tracking name is required")
	}
	switch r.Type {
	case models.TrackingTypeClick, models.TrackingTypePageView,
		models.TrackingTypeFormSubmit, models.TrackingTypeElementVisibility:
	default:
		return fmt.Errorf("unknown tracking type: %s", r.Type)
	}
	if len(r.Destinations) == 0 {
		return fmt.Errorf("at least one destination (ADS or GA4) is required")
	}
	for _, dest := range r.Destinations {
		if dest != models.DestinationAds && dest != models.DestinationGA4 {
			return fmt.Errorf("unknown destination: %s", dest)
		}
	}
	if r.Type == models.TrackingTypeElementVisibility && strings.TrimSpace(r.Selector) == "" {
		return fmt.Errorf("element visibility tracking requires a selector")
	}
	return nil
}

// CreateTracking provisions a tracking: a GTM trigger derived from the
// tracking type, then an Ads conversion tag and/or a GA4 event tag, then a
// best-effort workspace publish. On any failure the row ends FAILED with the
// captured message, never in an ambiguous in-progress state.
func (s *Service) CreateTracking(ctx context.Context, customerID int, req TrackingRequest) (*models.Tracking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !customer.IsConnected() {
		return nil, ErrNotConnected
	}

	wantsAds := contains(req.Destinations, models.DestinationAds)
	wantsGA4 := contains(req.Destinations, models.DestinationGA4)

	if wantsAds && (customer.AdsCustomerID == nil || *customer.AdsCustomerID == "") {
		return nil, fmt.Errorf("%w: ADS destination requires a linked Google Ads account", ErrMissingPrerequisite)
	}
	if wantsGA4 && (customer.GA4MeasurementID == nil || *customer.GA4MeasurementID == "") {
		return nil, fmt.Errorf("%w: GA4 destination requires a provisioned Analytics property", ErrMissingPrerequisite)
	}
	if customer.GTMAccountID == nil || customer.GTMContainerID == nil || customer.GTMWorkspaceID == nil {
		return nil, fmt.Errorf("%w: Tag Manager has not been set up; run connect first", ErrMissingPrerequisite)
	}

	tracking := models.Tracking{
		CustomerID: customerID,
		Name:       req.Name,
		Type:       req.Type,
		Selector:   req.Selector,
		URLPattern: req.URLPattern,
		Status:     models.TrackingStatusPending,
	}
	tracking.SetDestinations(req.Destinations)
	if err := s.db.WithContext(ctx).Create(&tracking).Error; err != nil {
		return nil, err
	}

	provisionCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	if err := s.provisionTracking(provisionCtx, customer, &tracking, wantsAds, wantsGA4); err != nil {
		message := err.Error()
		tracking.Status = models.TrackingStatusFailed
		tracking.ErrorMessage = &message
		if saveErr := s.db.WithContext(ctx).Save(&tracking).Error; saveErr != nil {
			log.Printf("Tracking: failed to persist FAILED status for tracking %d: %v", tracking.ID, saveErr)
		}
		return &tracking, err
	}

	tracking.Status = models.TrackingStatusActive
	tracking.ErrorMessage = nil
	tracking.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&tracking).Error; err != nil {
		return nil, err
	}
	return &tracking, nil
}

func (s *Service) provisionTracking(ctx context.Context, customer *models.Customer, tracking *models.Tracking, wantsAds, wantsGA4 bool) error {
	gtmToken, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeGTM)
	if err != nil {
		return err
	}
	if gtmToken == nil {
		return fmt.Errorf("no usable Tag Manager credentials; reconnect the Google account")
	}
	workspacePath := reconcile.WorkspacePath(*customer.GTMAccountID, *customer.GTMContainerID, *customer.GTMWorkspaceID)

	trigger, err := s.gtm.CreateTrigger(ctx, gtmToken.AccessToken, workspacePath, buildTrigger(tracking))
	if err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}
	tracking.GTMTriggerID = &trigger.TriggerID

	if wantsAds {
		if err := s.provisionAdsTag(ctx, customer, tracking, gtmToken.AccessToken, workspacePath, trigger.TriggerID); err != nil {
			return err
		}
	}
	if wantsGA4 {
		if err := s.provisionGA4Tag(ctx, customer, tracking, gtmToken.AccessToken, workspacePath, trigger.TriggerID); err != nil {
			return err
		}
	}

	// Publish is best-effort: the tags exist either way, they are just not
	// live until the next publish.
	versionName := fmt.Sprintf("%s - %s", reconcile.Marker, tracking.Name)
	if _, err := s.gtm.Publish(ctx, gtmToken.AccessToken, workspacePath, versionName); err != nil {
		log.Printf("Tracking: workspace publish failed for tracking %d (tags created but not live): %v", tracking.ID, err)
	}
	return nil
}

func (s *Service) provisionAdsTag(ctx context.Context, customer *models.Customer, tracking *models.Tracking, gtmToken, workspacePath, triggerID string) error {
	adsToken, err := s.ledger.Get(ctx, customer.ID, "google", models.ScopeAds)
	if err != nil {
		return err
	}
	if adsToken == nil {
		return fmt.Errorf("no usable Google Ads credentials; reconnect the Google account")
	}

	actionName := fmt.Sprintf("%s - %s", reconcile.Marker, tracking.Name)
	action, err := s.ads.EnsureConversionAction(ctx, adsToken.AccessToken, *customer.AdsCustomerID, actionName)
	if err != nil {
		return fmt.Errorf("failed to ensure conversion action: %w", err)
	}
	tracking.ConversionActionID = &action.ResourceName

	tag, err := s.gtm.CreateTag(ctx, gtmToken, workspacePath, google.GTMTag{
		Name: fmt.Sprintf("%s - %s - Ads", reconcile.Marker, tracking.Name),
		Type: "awct",
		Parameter: []google.GTMParameter{
			{Type: "template", Key: "conversionId", Value: *customer.AdsCustomerID},
			{Type: "template", Key: "conversionLabel", Value: action.Label},
			{Type: "boolean", Key: "enableConversionLinker", Value: "true"},
		},
		FiringTriggerID: []string{triggerID},
	})
	if err != nil {
		return fmt.Errorf("failed to create Ads conversion tag: %w", err)
	}
	tracking.GTMTagID = &tag.TagID
	return nil
}

func (s *Service) provisionGA4Tag(ctx context.Context, customer *models.Customer, tracking *models.Tracking, gtmToken, workspacePath, triggerID string) error {
	tag, err := s.gtm.CreateTag(ctx, gtmToken, workspacePath, google.GTMTag{
		Name: fmt.Sprintf("%s - %s - GA4", reconcile.Marker, tracking.Name),
		Type: "gaawe",
		Parameter: []google.GTMParameter{
			{Type: "template", Key: "measurementIdOverride", Value: *customer.GA4MeasurementID},
			{Type: "template", Key: "eventName", Value: eventNameFor(tracking)},
		},
		FiringTriggerID: []string{triggerID},
	})
	if err != nil {
		return fmt.Errorf("failed to create GA4 event tag: %w", err)
	}
	tracking.GA4TagID = &tag.TagID
	return nil
}

// DeleteTracking removes a tracking: best-effort external cleanup of its
// trigger, tags and conversion action, then unconditional row deletion
func (s *Service) DeleteTracking(ctx context.Context, customerID, trackingID int) error {
	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return err
	}

	var tracking models.Tracking
	err = s.db.WithContext(ctx).
		Where("id = ? AND customer_id = ?", trackingID, customerID).
		First(&tracking).Error
	if err != nil {
		return err
	}

	s.cleanupGTMResources(ctx, customer, []models.Tracking{tracking})
	s.cleanupConversionActions(ctx, customer, []models.Tracking{tracking})

	return s.db.WithContext(ctx).Delete(&tracking).Error
}

// buildTrigger maps a tracking type to its GTM trigger configuration. Plain
// #id and .class selectors become trigger filters; anything else the GTM
// filter language cannot express, so those degrade to an unfiltered trigger.
func buildTrigger(tracking *models.Tracking) google.GTMTrigger {
	name := fmt.Sprintf("%s - %s", reconcile.Marker, tracking.Name)

	switch tracking.Type {
	case models.TrackingTypeClick:
		trigger := google.GTMTrigger{Name: name, Type: "click"}
		trigger.Filter = selectorFilter(tracking, "clickId", "clickClasses")
		return trigger

	case models.TrackingTypeFormSubmit:
		trigger := google.GTMTrigger{Name: name, Type: "formSubmission"}
		trigger.Filter = selectorFilter(tracking, "formId", "formClasses")
		return trigger

	case models.TrackingTypeElementVisibility:
		return google.GTMTrigger{
			Name: name,
			Type: "elementVisibility",
			Selector: &google.GTMParameter{
				Type: "template", Key: "elementSelector", Value: tracking.Selector,
			},
		}

	default: // page view
		trigger := google.GTMTrigger{Name: name, Type: "pageview"}
		if tracking.URLPattern != "" {
			trigger.Filter = []google.GTMCondition{{
				Type: "contains",
				Parameter: []google.GTMParameter{
					{Type: "template", Key: "arg0", Value: "{{Page URL}}"},
					{Type: "template", Key: "arg1", Value: tracking.URLPattern},
				},
			}}
		}
		return trigger
	}
}

// selectorFilter builds the trigger filter for a plain id or class selector
func selectorFilter(tracking *models.Tracking, idVariable, classVariable string) []google.GTMCondition {
	selector := strings.TrimSpace(tracking.Selector)
	if selector == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(selector, "#") && isPlainName(selector[1:]):
		return []google.GTMCondition{{
			Type: "equals",
			Parameter: []google.GTMParameter{
				{Type: "template", Key: "arg0", Value: fmt.Sprintf("{{%s}}", builtInRef(idVariable))},
				{Type: "template", Key: "arg1", Value: selector[1:]},
			},
		}}
	case strings.HasPrefix(selector, ".") && isPlainName(selector[1:]):
		return []google.GTMCondition{{
			Type: "contains",
			Parameter: []google.GTMParameter{
				{Type: "template", Key: "arg0", Value: fmt.Sprintf("{{%s}}", builtInRef(classVariable))},
				{Type: "template", Key: "arg1", Value: selector[1:]},
			},
		}}
	}

	// Arbitrary CSS selectors cannot be expressed as GTM filters.
	log.Printf("Tracking: selector %q of tracking %d is not a plain #id or .class, creating unfiltered trigger", selector, tracking.ID)
	return nil
}

// isPlainName reports whether s is a bare id/class name with no combinators
func isPlainName(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, " >+~[]:.#(),")
}

// builtInRef maps an internal variable key to its GTM display name
func builtInRef(key string) string {
	switch key {
	case "clickId":
		return "Click ID"
	case "clickClasses":
		return "Click Classes"
	case "formId":
		return "Form ID"
	case "formClasses":
		return "Form Classes"
	default:
		return key
	}
}

// eventNameFor derives the GA4 event name of a tracking
func eventNameFor(tracking *models.Tracking) string {
	switch tracking.Type {
	case models.TrackingTypeClick:
		return "oneclicktag_click"
	case models.TrackingTypeFormSubmit:
		return "oneclicktag_form_submit"
	case models.TrackingTypeElementVisibility:
		return "oneclicktag_element_visible"
	default:
		return "oneclicktag_page_view"
	}
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
