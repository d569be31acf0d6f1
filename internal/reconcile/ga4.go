package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/oneclicktag/server/internal/google"
)

// AnalyticsAPI is the slice of the Analytics Admin API the reconciler consumes
type AnalyticsAPI interface {
	ListAccountSummaries(ctx context.Context, token string) ([]google.GA4AccountSummary, error)
	GetProperty(ctx context.Context, token, name string) (*google.GA4Property, error)
	CreateProperty(ctx context.Context, token string, property google.GA4Property) (*google.GA4Property, error)
	ListDeletedProperties(ctx context.Context, token, account string) ([]google.GA4Property, error)
	RestoreProperty(ctx context.Context, token, name string) (*google.GA4Property, error)
	ListDataStreams(ctx context.Context, token, propertyName string) ([]google.GA4DataStream, error)
	CreateDataStream(ctx context.Context, token, propertyName string, stream google.GA4DataStream) (*google.GA4DataStream, error)
}

// PropertyOutcome says how EnsureProperty resolved the managed property
type PropertyOutcome string

// Resolution tiers, in precedence order
const (
	PropertyFound    PropertyOutcome = "found"
	PropertyRestored PropertyOutcome = "restored"
	PropertyCreated  PropertyOutcome = "created"
)

// PropertyResult is the resolved managed GA4 property
type PropertyResult struct {
	Outcome       PropertyOutcome `json:"outcome"`
	PropertyName  string          `json:"property_name"` // properties/123
	DisplayName   string          `json:"display_name"`
	MeasurementID string          `json:"measurement_id"`
}

// GA4VerifyResult is the outcome of a property verification
type GA4VerifyResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// GA4 reconciles the managed Analytics property
type GA4 struct {
	api AnalyticsAPI
}

// NewGA4 creates an Analytics reconciler
func NewGA4(api AnalyticsAPI) *GA4 {
	return &GA4{api: api}
}

// EnsureProperty resolves the managed property through three tiers: an active
// marked property, then a trashed one that gets restored, then a fresh
// create. Users who disconnected earlier usually still have the property in
// Google's trash for ~30 days; restoring it instead of creating a new one
// avoids accumulating orphaned properties.
func (r *GA4) EnsureProperty(ctx context.Context, token, customerLabel, defaultURI string) (*PropertyResult, error) {
	summaries, err := r.api.ListAccountSummaries(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("no Analytics account accessible with this Google account")
	}

	// Tier 1: active property carrying the marker.
	for _, account := range summaries {
		for _, prop := range account.PropertySummaries {
			if !strings.Contains(prop.DisplayName, Marker) {
				continue
			}
			measurementID, err := r.ensureWebStream(ctx, token, prop.Property, customerLabel, defaultURI)
			if err != nil {
				return nil, err
			}
			return &PropertyResult{
				Outcome:       PropertyFound,
				PropertyName:  prop.Property,
				DisplayName:   prop.DisplayName,
				MeasurementID: measurementID,
			}, nil
		}
	}

	// Tier 2: trashed property carrying the marker, restored in place.
	for _, account := range summaries {
		deleted, err := r.api.ListDeletedProperties(ctx, token, account.Account)
		if err != nil {
			return nil, err
		}
		for _, prop := range deleted {
			if !strings.Contains(prop.DisplayName, Marker) {
				continue
			}
			restored, err := r.api.RestoreProperty(ctx, token, prop.Name)
			if err != nil {
				return nil, err
			}
			measurementID, err := r.ensureWebStream(ctx, token, restored.Name, customerLabel, defaultURI)
			if err != nil {
				return nil, err
			}
			return &PropertyResult{
				Outcome:       PropertyRestored,
				PropertyName:  restored.Name,
				DisplayName:   restored.DisplayName,
				MeasurementID: measurementID,
			}, nil
		}
	}

	// Tier 3: nothing to reuse, create property and web stream.
	created, err := r.api.CreateProperty(ctx, token, google.GA4Property{
		Parent:      summaries[0].Account,
		DisplayName: fmt.Sprintf("%s - %s", Marker, customerLabel),
		TimeZone:    "Etc/UTC",
	})
	if err != nil {
		return nil, err
	}
	measurementID, err := r.ensureWebStream(ctx, token, created.Name, customerLabel, defaultURI)
	if err != nil {
		return nil, err
	}
	return &PropertyResult{
		Outcome:       PropertyCreated,
		PropertyName:  created.Name,
		DisplayName:   created.DisplayName,
		MeasurementID: measurementID,
	}, nil
}

// ensureWebStream returns the measurement ID of the property's web data
// stream, creating a default one when the property has none
func (r *GA4) ensureWebStream(ctx context.Context, token, propertyName, customerLabel, defaultURI string) (string, error) {
	streams, err := r.api.ListDataStreams(ctx, token, propertyName)
	if err != nil {
		return "", err
	}
	for _, stream := range streams {
		if stream.WebStreamData != nil && stream.WebStreamData.MeasurementID != "" {
			return stream.WebStreamData.MeasurementID, nil
		}
	}

	if defaultURI == "" {
		defaultURI = "https://example.com"
	}
	created, err := r.api.CreateDataStream(ctx, token, propertyName, google.GA4DataStream{
		Type:        "WEB_DATA_STREAM",
		DisplayName: fmt.Sprintf("%s - %s Web", Marker, customerLabel),
		WebStreamData: &google.GA4WebStreamData{
			DefaultURI: defaultURI,
		},
	})
	if err != nil {
		return "", err
	}
	if created.WebStreamData == nil {
		return "", fmt.Errorf("created data stream has no web stream data")
	}
	return created.WebStreamData.MeasurementID, nil
}

// Verify confirms the managed property still exists, is not trashed, and
// still has a measurement ID
func (r *GA4) Verify(ctx context.Context, token, propertyName string) GA4VerifyResult {
	prop, err := r.api.GetProperty(ctx, token, propertyName)
	if err != nil {
		if google.IsNotFound(err) {
			return GA4VerifyResult{Error: "managed GA4 property no longer exists"}
		}
		return GA4VerifyResult{Error: fmt.Sprintf("property check failed: %v", err)}
	}
	if prop.DeleteTime != "" {
		return GA4VerifyResult{Error: "managed GA4 property is in the trash"}
	}

	streams, err := r.api.ListDataStreams(ctx, token, propertyName)
	if err != nil {
		return GA4VerifyResult{Error: fmt.Sprintf("data stream check failed: %v", err)}
	}
	for _, stream := range streams {
		if stream.WebStreamData != nil && stream.WebStreamData.MeasurementID != "" {
			return GA4VerifyResult{Valid: true}
		}
	}
	return GA4VerifyResult{Error: "managed GA4 property has no measurement ID"}
}
