package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const tagManagerBaseURL = "https://tagmanager.googleapis.com/tagmanager/v2"

// GTMAccount represents a Tag Manager account
type GTMAccount struct {
	Path      string `json:"path"`
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
}

// GTMContainer represents a Tag Manager container
type GTMContainer struct {
	Path         string   `json:"path,omitempty"`
	AccountID    string   `json:"accountId,omitempty"`
	ContainerID  string   `json:"containerId,omitempty"`
	Name         string   `json:"name"`
	PublicID     string   `json:"publicId,omitempty"`
	UsageContext []string `json:"usageContext,omitempty"`
}

// GTMWorkspace represents a draft workspace within a container
type GTMWorkspace struct {
	Path        string `json:"path,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GTMParameter is a key/value parameter on tags, triggers and variables
type GTMParameter struct {
	Type  string         `json:"type"` // template, boolean, integer, list, map
	Key   string         `json:"key,omitempty"`
	Value string         `json:"value,omitempty"`
	List  []GTMParameter `json:"list,omitempty"`
	Map   []GTMParameter `json:"map,omitempty"`
}

// GTMCondition is a trigger filter condition
type GTMCondition struct {
	Type      string         `json:"type"` // equals, contains, cssSelector, ...
	Parameter []GTMParameter `json:"parameter,omitempty"`
}

// GTMVariable represents a user-defined variable
type GTMVariable struct {
	Path       string         `json:"path,omitempty"`
	VariableID string         `json:"variableId,omitempty"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameter  []GTMParameter `json:"parameter,omitempty"`
}

// GTMTrigger represents a trigger
type GTMTrigger struct {
	Path      string         `json:"path,omitempty"`
	TriggerID string         `json:"triggerId,omitempty"`
	Name      string         `json:"name"`
	Type      string         `json:"type"` // pageview, click, formSubmission, elementVisibility, ...
	Filter    []GTMCondition `json:"filter,omitempty"`

	// elementVisibility settings
	Selector           *GTMParameter `json:"selector,omitempty"`
	VisibilitySelector *GTMParameter `json:"visibilitySelector,omitempty"`

	WaitForTags     *GTMParameter `json:"waitForTags,omitempty"`
	CheckValidation *GTMParameter `json:"checkValidation,omitempty"`
}

// GTMTag represents a tag
type GTMTag struct {
	Path            string         `json:"path,omitempty"`
	TagID           string         `json:"tagId,omitempty"`
	Name            string         `json:"name"`
	Type            string         `json:"type"` // awct, gaawe, conversionLinker, ...
	Parameter       []GTMParameter `json:"parameter,omitempty"`
	FiringTriggerID []string       `json:"firingTriggerId,omitempty"`
}

// GTMVersion represents a container version created from a workspace
type GTMVersion struct {
	Path               string `json:"path,omitempty"`
	ContainerVersionID string `json:"containerVersionId,omitempty"`
	Name               string `json:"name,omitempty"`
}

// TagManager is a thin client for the Tag Manager v2 API. Access tokens are
// passed per call so the client can be shared across customers.
type TagManager struct {
	httpClient *http.Client
	baseURL    string
}

// NewTagManager creates a Tag Manager API client
func NewTagManager() *TagManager {
	return &TagManager{
		httpClient: newHTTPClient(),
		baseURL:    tagManagerBaseURL,
	}
}

func (c *TagManager) url(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// ListAccounts lists the Tag Manager accounts accessible to the token
func (c *TagManager) ListAccounts(ctx context.Context, token string) ([]GTMAccount, error) {
	var out struct {
		Account []GTMAccount `json:"account"`
	}
	if err := doJSON(ctx, c.httpClient, "GET", c.url("accounts", nil), token, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to list GTM accounts: %w", err)
	}
	return out.Account, nil
}

// ListContainers lists the containers of an account
func (c *TagManager) ListContainers(ctx context.Context, token, accountID string) ([]GTMContainer, error) {
	path := fmt.Sprintf("accounts/%s/containers", accountID)
	var out struct {
		Container []GTMContainer `json:"container"`
	}
	if err := doJSON(ctx, c.httpClient, "GET", c.url(path, nil), token, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to list GTM containers: %w", err)
	}
	return out.Container, nil
}

// CreateContainer creates a web container in an account
func (c *TagManager) CreateContainer(ctx context.Context, token, accountID string, container GTMContainer) (*GTMContainer, error) {
	path := fmt.Sprintf("accounts/%s/containers", accountID)
	var out GTMContainer
	if err := doJSON(ctx, c.httpClient, "POST", c.url(path, nil), token, container, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to create GTM container: %w", err)
	}
	return &out, nil
}

// ListWorkspaces lists the workspaces of a container
func (c *TagManager) ListWorkspaces(ctx context.Context, token, containerPath string) ([]GTMWorkspace, error) {
	var out struct {
		Workspace []GTMWorkspace `json:"workspace"`
	}
	if err := doJSON(ctx, c.httpClient, "GET", c.url(containerPath+"/workspaces", nil), token, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to list GTM workspaces: %w", err)
	}
	return out.Workspace, nil
}

// CreateWorkspace creates a workspace in a container
func (c *TagManager) CreateWorkspace(ctx context.Context, token, containerPath string, ws GTMWorkspace) (*GTMWorkspace, error) {
	var out GTMWorkspace
	if err := doJSON(ctx, c.httpClient, "POST", c.url(containerPath+"/workspaces", nil), token, ws, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to create GTM workspace: %w", err)
	}
	return &out, nil
}

// GetWorkspace fetches a workspace by full path. Direct gets are the only
// reliable existence check; trashed items can still appear in list responses.
func (c *TagManager) GetWorkspace(ctx context.Context, token, workspacePath string) (*GTMWorkspace, error) {
	var out GTMWorkspace
	if err := doJSON(ctx, c.httpClient, "GET", c.url(workspacePath, nil), token, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableBuiltInVariables enables built-in variables in a workspace
func (c *TagManager) EnableBuiltInVariables(ctx context.Context, token, workspacePath string, types []string) error {
	query := url.Values{}
	for _, t := range types {
		query.Add("type", t)
	}
	path := workspacePath + "/built_in_variables"
	if err := doJSON(ctx, c.httpClient, "POST", c.url(path, query), token, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to enable built-in variables: %w", err)
	}
	return nil
}

// ListVariables lists the user-defined variables of a workspace
func (c *TagManager) ListVariables(ctx context.Context, token, workspacePath string) ([]GTMVariable, error) {
	var out struct {
		Variable []GTMVariable `json:"variable"`
	}
	if err := doJSON(ctx, c.httpClient, "GET", c.url(workspacePath+"/variables", nil), token, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to list GTM variables: %w", err)
	}
	return out.Variable, nil
}

// CreateVariable creates a user-defined variable in a workspace
func (c *TagManager) CreateVariable(ctx context.Context, token, workspacePath string, v GTMVariable) (*GTMVariable, error) {
	var out GTMVariable
	if err := doJSON(ctx, c.httpClient, "POST", c.url(workspacePath+"/variables", nil), token, v, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to create GTM variable: %w", err)
	}
	return &out, nil
}

// ListTriggers lists the triggers of a workspace
func (c *TagManager) ListTriggers(ctx context.Context, token, workspacePath string) ([]GTMTrigger, error) {
	var out struct {
		Trigger []GTMTrigger `json:"trigger"`
	}
	if err := doJSON(ctx, c.httpClient, "GET", c.url(workspacePath+"/triggers", nil), token, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to list GTM triggers: %w", err)
	}
	return out.Trigger, nil
}

// CreateTrigger creates a trigger in a workspace
func (c *TagManager) CreateTrigger(ctx context.Context, token, workspacePath string, trigger GTMTrigger) (*GTMTrigger, error) {
	var out GTMTrigger
	if err := doJSON(ctx, c.httpClient, "POST", c.url(workspacePath+"/triggers", nil), token, trigger, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to create GTM trigger: %w", err)
	}
	return &out, nil
}

// DeleteTrigger deletes a trigger by full path
func (c *TagManager) DeleteTrigger(ctx context.Context, token, triggerPath string) error {
	return doJSON(ctx, c.httpClient, "DELETE", c.url(triggerPath, nil), token, nil, nil, nil)
}

// ListTags lists the tags of a workspace
func (c *TagManager) ListTags(ctx context.Context, token, workspacePath string) ([]GTMTag, error) {
	var out struct {
		Tag []GTMTag `json:"tag"`
	}
	if err := doJSON(ctx, c.httpClient, "GET", c.url(workspacePath+"/tags", nil), token, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to list GTM tags: %w", err)
	}
	return out.Tag, nil
}

// CreateTag creates a tag in a workspace
func (c *TagManager) CreateTag(ctx context.Context, token, workspacePath string, tag GTMTag) (*GTMTag, error) {
	var out GTMTag
	if err := doJSON(ctx, c.httpClient, "POST", c.url(workspacePath+"/tags", nil), token, tag, &out, nil); err != nil {
		return nil, fmt.Errorf("failed to create GTM tag: %w", err)
	}
	return &out, nil
}

// GetTag fetches a tag by full path
func (c *TagManager) GetTag(ctx context.Context, token, tagPath string) (*GTMTag, error) {
	var out GTMTag
	if err := doJSON(ctx, c.httpClient, "GET", c.url(tagPath, nil), token, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTag deletes a tag by full path
func (c *TagManager) DeleteTag(ctx context.Context, token, tagPath string) error {
	return doJSON(ctx, c.httpClient, "DELETE", c.url(tagPath, nil), token, nil, nil, nil)
}

// PublishWorkspace creates a container version from the workspace and
// publishes it in one call
func (c *TagManager) PublishWorkspace(ctx context.Context, token, workspacePath, versionName string) (*GTMVersion, error) {
	body := map[string]string{"name": versionName}
	var created struct {
		ContainerVersion GTMVersion `json:"containerVersion"`
	}
	path := workspacePath + ":create_version"
	if err := doJSON(ctx, c.httpClient, "POST", c.url(path, nil), token, body, &created, nil); err != nil {
		return nil, fmt.Errorf("failed to create GTM version: %w", err)
	}

	var published GTMVersion
	publishPath := created.ContainerVersion.Path + ":publish"
	if err := doJSON(ctx, c.httpClient, "POST", c.url(publishPath, nil), token, nil, &published, nil); err != nil {
		return nil, fmt.Errorf("failed to publish GTM version: %w", err)
	}
	return &published, nil
}
