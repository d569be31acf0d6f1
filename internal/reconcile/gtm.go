package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/oneclicktag/server/internal/google"
)

// Marker identifies resources managed by this service. Find-by-marker before
// create is what keeps every ensure operation idempotent across retries.
const Marker = "OneClickTag"

const (
	workspaceName        = Marker + " Workspace"
	allPagesTriggerName  = Marker + " - All Pages"
	conversionLinkerName = Marker + " - Conversion Linker"
)

// Built-in variables the managed tags rely on
var builtInVariableTypes = []string{
	"pageUrl",
	"pageHostname",
	"pagePath",
	"clickClasses",
	"clickId",
	"clickUrl",
	"formClasses",
	"formId",
}

// Custom variables provisioned into the managed workspace
var customVariables = []google.GTMVariable{
	{
		Name: Marker + " - Page Location",
		Type: "u", // URL variable
		Parameter: []google.GTMParameter{
			{Type: "template", Key: "component", Value: "URL"},
		},
	},
	{
		Name: Marker + " - Referrer",
		Type: "f", // HTTP referrer
	},
}

// TagManagerAPI is the slice of the Tag Manager API the reconciler consumes
type TagManagerAPI interface {
	ListAccounts(ctx context.Context, token string) ([]google.GTMAccount, error)
	ListContainers(ctx context.Context, token, accountID string) ([]google.GTMContainer, error)
	CreateContainer(ctx context.Context, token, accountID string, container google.GTMContainer) (*google.GTMContainer, error)
	ListWorkspaces(ctx context.Context, token, containerPath string) ([]google.GTMWorkspace, error)
	CreateWorkspace(ctx context.Context, token, containerPath string, ws google.GTMWorkspace) (*google.GTMWorkspace, error)
	GetWorkspace(ctx context.Context, token, workspacePath string) (*google.GTMWorkspace, error)
	EnableBuiltInVariables(ctx context.Context, token, workspacePath string, types []string) error
	ListVariables(ctx context.Context, token, workspacePath string) ([]google.GTMVariable, error)
	CreateVariable(ctx context.Context, token, workspacePath string, v google.GTMVariable) (*google.GTMVariable, error)
	ListTriggers(ctx context.Context, token, workspacePath string) ([]google.GTMTrigger, error)
	CreateTrigger(ctx context.Context, token, workspacePath string, trigger google.GTMTrigger) (*google.GTMTrigger, error)
	DeleteTrigger(ctx context.Context, token, triggerPath string) error
	ListTags(ctx context.Context, token, workspacePath string) ([]google.GTMTag, error)
	CreateTag(ctx context.Context, token, workspacePath string, tag google.GTMTag) (*google.GTMTag, error)
	GetTag(ctx context.Context, token, tagPath string) (*google.GTMTag, error)
	DeleteTag(ctx context.Context, token, tagPath string) error
	PublishWorkspace(ctx context.Context, token, workspacePath, versionName string) (*google.GTMVersion, error)
}

// GTMVerifyResult aggregates the direct-get checks of the managed GTM setup
type GTMVerifyResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// GTM reconciles the managed Tag Manager resources. Every ensure operation
// finds by the reserved marker before creating, so repeated calls never
// produce duplicates.
type GTM struct {
	api TagManagerAPI
}

// NewGTM creates a Tag Manager reconciler
func NewGTM(api TagManagerAPI) *GTM {
	return &GTM{api: api}
}

// ContainerPath builds the API path of a container
func ContainerPath(accountID, containerID string) string {
	return fmt.Sprintf("accounts/%s/containers/%s", accountID, containerID)
}

// WorkspacePath builds the API path of a workspace
func WorkspacePath(accountID, containerID, workspaceID string) string {
	return fmt.Sprintf("accounts/%s/containers/%s/workspaces/%s", accountID, containerID, workspaceID)
}

// FirstAccount returns the first Tag Manager account the token can access
func (r *GTM) FirstAccount(ctx context.Context, token string) (*google.GTMAccount, error) {
	accounts, err := r.api.ListAccounts(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no Tag Manager account accessible with this Google account")
	}
	return &accounts[0], nil
}

// EnsureContainer returns the managed container of the account, creating it
// if absent
func (r *GTM) EnsureContainer(ctx context.Context, token, accountID, customerLabel string) (*google.GTMContainer, error) {
	containers, err := r.api.ListContainers(ctx, token, accountID)
	if err != nil {
		return nil, err
	}
	for i := range containers {
		if strings.Contains(containers[i].Name, Marker) {
			return &containers[i], nil
		}
	}

	created, err := r.api.CreateContainer(ctx, token, accountID, google.GTMContainer{
		Name:         fmt.Sprintf("%s - %s", Marker, customerLabel),
		UsageContext: []string{"web"},
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// EnsureWorkspace returns the dedicated managed workspace of the container,
// creating it if absent. All managed objects live in this workspace so they
// stay isolated from user-authored GTM configuration.
func (r *GTM) EnsureWorkspace(ctx context.Context, token, containerPath string) (*google.GTMWorkspace, error) {
	workspaces, err := r.api.ListWorkspaces(ctx, token, containerPath)
	if err != nil {
		return nil, err
	}
	for i := range workspaces {
		if strings.Contains(workspaces[i].Name, Marker) {
			return &workspaces[i], nil
		}
	}

	return r.api.CreateWorkspace(ctx, token, containerPath, google.GTMWorkspace{
		Name:        workspaceName,
		Description: "Managed by OneClickTag. Do not edit manually.",
	})
}

// EnsureBuiltInVariables enables the built-in variables the managed tags use
func (r *GTM) EnsureBuiltInVariables(ctx context.Context, token, workspacePath string) error {
	return r.api.EnableBuiltInVariables(ctx, token, workspacePath, builtInVariableTypes)
}

// EnsureCustomVariables creates the managed custom variables that are not
// present yet. Safe to call repeatedly.
func (r *GTM) EnsureCustomVariables(ctx context.Context, token, workspacePath string) error {
	existing, err := r.api.ListVariables(ctx, token, workspacePath)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, v := range existing {
		present[v.Name] = true
	}

	for _, v := range customVariables {
		if present[v.Name] {
			continue
		}
		if _, err := r.api.CreateVariable(ctx, token, workspacePath, v); err != nil {
			return err
		}
	}
	return nil
}

// EnsureAllPagesTrigger returns the managed all-pages trigger, creating it
// if absent
func (r *GTM) EnsureAllPagesTrigger(ctx context.Context, token, workspacePath string) (*google.GTMTrigger, error) {
	triggers, err := r.api.ListTriggers(ctx, token, workspacePath)
	if err != nil {
		return nil, err
	}
	for i := range triggers {
		if triggers[i].Name == allPagesTriggerName {
			return &triggers[i], nil
		}
	}

	return r.api.CreateTrigger(ctx, token, workspacePath, google.GTMTrigger{
		Name: allPagesTriggerName,
		Type: "pageview",
	})
}

// EnsureConversionLinkerTag returns the managed conversion-linker tag firing
// on all pages, creating it if absent
func (r *GTM) EnsureConversionLinkerTag(ctx context.Context, token, workspacePath, allPagesTriggerID string) (*google.GTMTag, error) {
	tags, err := r.api.ListTags(ctx, token, workspacePath)
	if err != nil {
		return nil, err
	}
	for i := range tags {
		if tags[i].Name == conversionLinkerName {
			return &tags[i], nil
		}
	}

	return r.api.CreateTag(ctx, token, workspacePath, google.GTMTag{
		Name:            conversionLinkerName,
		Type:            "conversionLinker",
		FiringTriggerID: []string{allPagesTriggerID},
	})
}

// CreateTrigger creates a trigger in the managed workspace
func (r *GTM) CreateTrigger(ctx context.Context, token, workspacePath string, trigger google.GTMTrigger) (*google.GTMTrigger, error) {
	return r.api.CreateTrigger(ctx, token, workspacePath, trigger)
}

// CreateTag creates a tag in the managed workspace
func (r *GTM) CreateTag(ctx context.Context, token, workspacePath string, tag google.GTMTag) (*google.GTMTag, error) {
	return r.api.CreateTag(ctx, token, workspacePath, tag)
}

// DeleteTrigger deletes a trigger by full path
func (r *GTM) DeleteTrigger(ctx context.Context, token, triggerPath string) error {
	return r.api.DeleteTrigger(ctx, token, triggerPath)
}

// DeleteTag deletes a tag by full path
func (r *GTM) DeleteTag(ctx context.Context, token, tagPath string) error {
	return r.api.DeleteTag(ctx, token, tagPath)
}

// Publish creates and publishes a container version from the managed
// workspace
func (r *GTM) Publish(ctx context.Context, token, workspacePath, versionName string) (*google.GTMVersion, error) {
	return r.api.PublishWorkspace(ctx, token, workspacePath, versionName)
}

// Verify confirms the managed workspace and its conversion-linker tag are
// still reachable. Direct get-by-id calls are required: trashed items can
// still show up in list responses yet fail on direct get.
func (r *GTM) Verify(ctx context.Context, token, accountID, containerID, workspaceID string) GTMVerifyResult {
	result := GTMVerifyResult{Valid: true}
	workspacePath := WorkspacePath(accountID, containerID, workspaceID)

	if _, err := r.api.GetWorkspace(ctx, token, workspacePath); err != nil {
		result.Valid = false
		if google.IsNotFound(err) {
			result.Errors = append(result.Errors, "managed workspace no longer exists")
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("workspace check failed: %v", err))
		}
		return result
	}

	tags, err := r.api.ListTags(ctx, token, workspacePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("tag listing failed: %v", err))
		return result
	}

	var linkerPath string
	for _, tag := range tags {
		if tag.Name == conversionLinkerName {
			linkerPath = tag.Path
			break
		}
	}
	if linkerPath == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "conversion linker tag is missing")
		return result
	}

	if _, err := r.api.GetTag(ctx, token, linkerPath); err != nil {
		result.Valid = false
		if google.IsNotFound(err) {
			result.Errors = append(result.Errors, "conversion linker tag no longer exists")
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("conversion linker check failed: %v", err))
		}
	}
	return result
}
