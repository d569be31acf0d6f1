package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const analyticsAdminBaseURL = "https://analyticsadmin.googleapis.com/v1beta"

// GA4PropertySummary is a property entry within an account summary
type GA4PropertySummary struct {
	Property    string `json:"property"` // properties/123
	DisplayName string `json:"displayName"`
}

// GA4AccountSummary summarizes one Analytics account and its properties
type GA4AccountSummary struct {
	Account           string               `json:"account"` // accounts/123
	DisplayName       string               `json:"displayName"`
	PropertySummaries []GA4PropertySummary `json:"propertySummaries"`
}

// GA4Property represents an Analytics property. A non-empty DeleteTime means
// the property sits in the trash and can still be restored (~30 days).
type GA4Property struct {
	Name         string `json:"name,omitempty"` // properties/123
	Parent       string `json:"parent,omitempty"`
	DisplayName  string `json:"displayName"`
	TimeZone     string `json:"timeZone,omitempty"`
	CurrencyCode string `json:"currencyCode,omitempty"`
	DeleteTime   string `json:"deleteTime,omitempty"`
}

// GA4WebStreamData carries the measurement ID of a web data stream
type GA4WebStreamData struct {
	MeasurementID string `json:"measurementId,omitempty"`
	DefaultURI    string `json:"defaultUri,omitempty"`
}

// GA4DataStream represents a data stream within a property
type GA4DataStream struct {
	Name          string            `json:"name,omitempty"` // properties/123/dataStreams/456
	Type          string            `json:"type"`           // WEB_DATA_STREAM
	DisplayName   string            `json:"displayName"`
	WebStreamData *GA4WebStreamData `json:"webStreamData,omitempty"`
}

// AnalyticsAdmin is a thin client for the Analytics Admin v1beta API
type AnalyticsAdmin struct {
	httpClient *http.Client
	baseURL    string
}

// NewAnalyticsAdmin creates an Analytics Admin API client
func NewAnalyticsAdmin() *AnalyticsAdmin {
	return &AnalyticsAdmin{
		httpClient: newHTTPClient(),
		baseURL:    analyticsAdminBaseURL,
	}
}

func (c *AnalyticsAdmin) url(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// ListAccountSummaries lists the Analytics accounts and properties
// accessible to the token
func (c *AnalyticsAdmin) ListAccountSummaries(ctx context.Context, token string) ([]GA4AccountSummary, error) {
	var summaries []GA4AccountSummary
	pageToken := ""
	for {
		query := url.Values{}
		query.Set("pageSize", "200")
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var out struct {
			AccountSummaries []GA4AccountSummary `json:"accountSummaries"`
			NextPageToken    string              `json:"nextPageToken"`
		}
		if err := doJSON(ctx, c.httpClient, "GET", c.url("accountSummaries", query), token, nil, &out, nil); err != nil {
			return nil, fmt.Errorf("failed to list GA4 account summaries: %w", err)
		}
		summaries = append(summaries, out.AccountSummaries...)
		if out.NextPageToken == "" {
			return summaries, nil
		}
		pageToken = out.NextPageToken
	}
}

// GetProperty fetches a property by resource name (properties/123)
func (c *AnalyticsAdmin) GetProperty(ctx context.Context, token, name string) (*GA4Property, error) {
	var out GA4Property
	if err := doJSON(ctx, c.httpClient, "GET", c.url(name, nil), token, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProperty creates a property under the given account
func (c *AnalyticsAdmin) CreateProperty(ctx context.Context, token string, property GA4Property) (*GA4Property, error) {
	var out GA4Property
	if err := doJSON(ctx, c.httpClient, "POST", c.url("properties", nil), token, property, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to create GA4 property: %w", err)
	}
	return &out, nil
}

// ListDeletedProperties lists soft-deleted properties of an account. Google
// keeps trashed properties for roughly 30 days before hard deletion.
func (c *AnalyticsAdmin) ListDeletedProperties(ctx context.Context, token, account string) ([]GA4Property, error) {
	query := url.Values{}
	query.Set("filter", fmt.Sprintf("parent:%s", account))
	query.Set("showDeleted", "true")

	var out struct {
		Properties []GA4Property `json:"properties"`
	}
	if err := doJSON(ctx, c.httpClient, "GET", c.url("properties", query), token, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to list deleted GA4 properties: %w", err)
	}

	deleted := make([]GA4Property, 0, len(out.Properties))
	for _, p := range out.Properties {
		if p.DeleteTime != "" {
			deleted = append(deleted, p)
		}
	}
	return deleted, nil
}

// RestoreProperty pulls a trashed property back out of the trash by clearing
// its delete time
func (c *AnalyticsAdmin) RestoreProperty(ctx context.Context, token, name string) (*GA4Property, error) {
	var out GA4Property
	path := name + ":restore"
	if err := doJSON(ctx, c.httpClient, "POST", c.url(path, nil), token, struct{}{}, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to restore GA4 property: %w", err)
	}
	return &out, nil
}

// ListDataStreams lists the data streams of a property
func (c *AnalyticsAdmin) ListDataStreams(ctx context.Context, token, propertyName string) ([]GA4DataStream, error) {
	var out struct {
		DataStreams []GA4DataStream `json:"dataStreams"`
	}
	if err := doJSON(ctx, c.httpClient, "GET", c.url(propertyName+"/dataStreams", nil), token, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to list GA4 data streams: %w", err)
	}
	return out.DataStreams, nil
}

// CreateDataStream creates a data stream within a property
func (c *AnalyticsAdmin) CreateDataStream(ctx context.Context, token, propertyName string, stream GA4DataStream) (*GA4DataStream, error) {
	var out GA4DataStream
	if err := doJSON(ctx, c.httpClient, "POST", c.url(propertyName+"/dataStreams", nil), token, stream, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to create GA4 data stream: %w", err)
	}
	return &out, nil
}
