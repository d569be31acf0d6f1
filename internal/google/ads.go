package google

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/oneclicktag/server/internal/config"
)

const adsBaseURL = "https://googleads.googleapis.com/v17"

// AdsCustomer describes one Google Ads account
type AdsCustomer struct {
	ResourceName    string
	ID              string
	DescriptiveName string
	CurrencyCode    string
	TimeZone        string
	Manager         bool
}

// ConversionAction describes an Ads conversion action. Label is the tag label
// paired with the conversion ID in GTM conversion-tracking tags.
type ConversionAction struct {
	ResourceName string
	ID           string
	Name         string
	Label        string
}

// Ads is a thin client for the Google Ads REST API
type Ads struct {
	httpClient         *http.Client
	baseURL            string
	developerToken     string
	loginCustomerID    string
}

// NewAds creates a Google Ads API client
func NewAds(cfg config.GoogleConfig) *Ads {
	return &Ads{
		httpClient:      newHTTPClient(),
		baseURL:         adsBaseURL,
		developerToken:  cfg.AdsDeveloperToken,
		loginCustomerID: cfg.AdsLoginCustomerID,
	}
}

func (c *Ads) headers() map[string]string {
	h := map[string]string{
		"developer-token": c.developerToken,
	}
	if c.loginCustomerID != "" {
		h["login-customer-id"] = c.loginCustomerID
	}
	return h
}

// ListAccessibleCustomers returns the resource names of the Ads accounts the
// token can access (customers/123...)
func (c *Ads) ListAccessibleCustomers(ctx context.Context, token string) ([]string, error) {
	var out struct {
		ResourceNames []string `json:"resourceNames"`
	}
	url := c.baseURL + "/customers:listAccessibleCustomers"
	if err := doJSON(ctx, c.httpClient, "GET", url, token, nil, &out, c.headers()); err != nil {
		return nil, fmt.Errorf("failed to list accessible Ads customers: %w", err)
	}
	return out.ResourceNames, nil
}

type adsSearchRow struct {
	Customer *struct {
		ResourceName    string `json:"resourceName"`
		ID              string `json:"id"`
		DescriptiveName string `json:"descriptiveName"`
		CurrencyCode    string `json:"currencyCode"`
		TimeZone        string `json:"timeZone"`
		Manager         bool   `json:"manager"`
	} `json:"customer"`
	ConversionAction *struct {
		ResourceName string `json:"resourceName"`
		ID           string `json:"id"`
		Name         string `json:"name"`
		TagSnippets  []struct {
			Type          string `json:"type"`
			PageFormat    string `json:"pageFormat"`
			EventSnippet  string `json:"eventSnippet"`
			GlobalSiteTag string `json:"globalSiteTag"`
		} `json:"tagSnippets"`
	} `json:"conversionAction"`
}

func (c *Ads) search(ctx context.Context, token, customerID, query string) ([]adsSearchRow, error) {
	url := fmt.Sprintf("%s/customers/%s/googleAds:search", c.baseURL, customerID)
	body := map[string]string{"query": query}
	var out struct {
		Results []adsSearchRow `json:"results"`
	}
	if err := doJSON(ctx, c.httpClient, "POST", url, token, body, &out, c.headers()); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GetCustomer fetches metadata for one Ads account
func (c *Ads) GetCustomer(ctx context.Context, token, customerID string) (*AdsCustomer, error) {
	query := `SELECT customer.id, customer.descriptive_name, customer.currency_code,
		customer.time_zone, customer.manager FROM customer LIMIT 1`
	rows, err := c.search(ctx, token, customerID, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query Ads customer %s: %w", customerID, err)
	}
	if len(rows) == 0 || rows[0].Customer == nil {
		return nil, &APIError{StatusCode: http.StatusNotFound, Status: "NOT_FOUND", Message: "customer not found"}
	}
	row := rows[0].Customer
	return &AdsCustomer{
		ResourceName:    row.ResourceName,
		ID:              row.ID,
		DescriptiveName: row.DescriptiveName,
		CurrencyCode:    row.CurrencyCode,
		TimeZone:        row.TimeZone,
		Manager:         row.Manager,
	}, nil
}

// ListConversionActions lists the non-removed conversion actions of an account
func (c *Ads) ListConversionActions(ctx context.Context, token, customerID string) ([]ConversionAction, error) {
	query := `SELECT conversion_action.resource_name, conversion_action.id,
		conversion_action.name, conversion_action.tag_snippets
		FROM conversion_action WHERE conversion_action.status != 'REMOVED'`
	rows, err := c.search(ctx, token, customerID, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversion actions: %w", err)
	}

	actions := make([]ConversionAction, 0, len(rows))
	for _, row := range rows {
		if row.ConversionAction == nil {
			continue
		}
		actions = append(actions, ConversionAction{
			ResourceName: row.ConversionAction.ResourceName,
			ID:           row.ConversionAction.ID,
			Name:         row.ConversionAction.Name,
			Label:        extractConversionLabel(row),
		})
	}
	return actions, nil
}

// CreateConversionAction creates a webpage conversion action and returns it
// with its id and tag label resolved
func (c *Ads) CreateConversionAction(ctx context.Context, token, customerID, name string) (*ConversionAction, error) {
	url := fmt.Sprintf("%s/customers/%s/conversionActions:mutate", c.baseURL, customerID)
	body := map[string]interface{}{
		"operations": []map[string]interface{}{
			{
				"create": map[string]interface{}{
					"name":     name,
					"type":     "WEBPAGE",
					"category": "DEFAULT",
					"status":   "ENABLED",
					"valueSettings": map[string]interface{}{
						"defaultValue":            0,
						"alwaysUseDefaultValue": false,
					},
				},
			},
		},
	}
	var out struct {
		Results []struct {
			ResourceName string `json:"resourceName"`
		} `json:"results"`
	}
	if err := doJSON(ctx, c.httpClient, "POST", url, token, body, &out, c.headers()); err != nil {
		return nil, fmt.Errorf("failed to create conversion action: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("conversion action mutate returned no results")
	}

	resourceName := out.Results[0].ResourceName
	// The mutate response only carries the resource name; fetch the id and
	// tag label with a follow-up query.
	query := fmt.Sprintf(`SELECT conversion_action.resource_name, conversion_action.id,
		conversion_action.name, conversion_action.tag_snippets
		FROM conversion_action WHERE conversion_action.resource_name = '%s'`, resourceName)
	rows, err := c.search(ctx, token, customerID, query)
	if err != nil || len(rows) == 0 || rows[0].ConversionAction == nil {
		return &ConversionAction{ResourceName: resourceName, Name: name}, nil
	}
	return &ConversionAction{
		ResourceName: rows[0].ConversionAction.ResourceName,
		ID:           rows[0].ConversionAction.ID,
		Name:         rows[0].ConversionAction.Name,
		Label:        extractConversionLabel(rows[0]),
	}, nil
}

// DeleteConversionAction removes a conversion action by resource name
func (c *Ads) DeleteConversionAction(ctx context.Context, token, customerID, resourceName string) error {
	url := fmt.Sprintf("%s/customers/%s/conversionActions:mutate", c.baseURL, customerID)
	body := map[string]interface{}{
		"operations": []map[string]interface{}{
			{"remove": resourceName},
		},
	}
	if err := doJSON(ctx, c.httpClient, "POST", url, token, body, nil, c.headers()); err != nil {
		return fmt.Errorf("failed to remove conversion action: %w", err)
	}
	return nil
}

// CustomerIDFromResourceName extracts the numeric id from customers/123
func CustomerIDFromResourceName(resourceName string) string {
	return strings.TrimPrefix(resourceName, "customers/")
}

// extractConversionLabel pulls the tag label out of the event snippet of a
// conversion action. The snippet embeds "send_to: 'AW-<id>/<label>'".
func extractConversionLabel(row adsSearchRow) string {
	if row.ConversionAction == nil {
		return ""
	}
	for _, snippet := range row.ConversionAction.TagSnippets {
		idx := strings.Index(snippet.EventSnippet, "send_to")
		if idx < 0 {
			continue
		}
		rest := snippet.EventSnippet[idx:]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			continue
		}
		label := rest[slash+1:]
		if end := strings.IndexAny(label, "'\""); end > 0 {
			return label[:end]
		}
	}
	return ""
}
