package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneclicktag/server/internal/google"
)

type fakeTagManager struct {
	accounts   []google.GTMAccount
	containers []google.GTMContainer
	workspaces []google.GTMWorkspace
	variables  []google.GTMVariable
	triggers   []google.GTMTrigger
	tags       []google.GTMTag

	// direct gets fail for paths in here even if listed
	trashed map[string]bool

	createdContainers int
	createdWorkspaces int
	createdVariables  int
	createdTriggers   int
	createdTags       int
	builtInsEnabled   []string
	published         []string
	deletedPaths      []string

	listErr error
}

func notFoundErr() error {
	return &google.APIError{StatusCode: 404, Status: "NOT_FOUND", Message: "not found"}
}

func (f *fakeTagManager) ListAccounts(ctx context.Context, token string) ([]google.GTMAccount, error) {
	return f.accounts, f.listErr
}

func (f *fakeTagManager) ListContainers(ctx context.Context, token, accountID string) ([]google.GTMContainer, error) {
	return f.containers, f.listErr
}

func (f *fakeTagManager) CreateContainer(ctx context.Context, token, accountID string, c google.GTMContainer) (*google.GTMContainer, error) {
	f.createdContainers++
	c.ContainerID = fmt.Sprintf("c%d", f.createdContainers)
	c.Path = ContainerPath(accountID, c.ContainerID)
	f.containers = append(f.containers, c)
	return &c, nil
}

func (f *fakeTagManager) ListWorkspaces(ctx context.Context, token, containerPath string) ([]google.GTMWorkspace, error) {
	return f.workspaces, f.listErr
}

func (f *fakeTagManager) CreateWorkspace(ctx context.Context, token, containerPath string, ws google.GTMWorkspace) (*google.GTMWorkspace, error) {
	f.createdWorkspaces++
	ws.WorkspaceID = fmt.Sprintf("w%d", f.createdWorkspaces)
	ws.Path = containerPath + "/workspaces/" + ws.WorkspaceID
	f.workspaces = append(f.workspaces, ws)
	return &ws, nil
}

func (f *fakeTagManager) GetWorkspace(ctx context.Context, token, workspacePath string) (*google.GTMWorkspace, error) {
	if f.trashed[workspacePath] {
		return nil, notFoundErr()
	}
	for i := range f.workspaces {
		if f.workspaces[i].Path == workspacePath {
			return &f.workspaces[i], nil
		}
	}
	return nil, notFoundErr()
}

func (f *fakeTagManager) EnableBuiltInVariables(ctx context.Context, token, workspacePath string, types []string) error {
	f.builtInsEnabled = append(f.builtInsEnabled, types...)
	return nil
}

func (f *fakeTagManager) ListVariables(ctx context.Context, token, workspacePath string) ([]google.GTMVariable, error) {
	return f.variables, f.listErr
}

func (f *fakeTagManager) CreateVariable(ctx context.Context, token, workspacePath string, v google.GTMVariable) (*google.GTMVariable, error) {
	f.createdVariables++
	f.variables = append(f.variables, v)
	return &v, nil
}

func (f *fakeTagManager) ListTriggers(ctx context.Context, token, workspacePath string) ([]google.GTMTrigger, error) {
	return f.triggers, f.listErr
}

func (f *fakeTagManager) CreateTrigger(ctx context.Context, token, workspacePath string, trigger google.GTMTrigger) (*google.GTMTrigger, error) {
	f.createdTriggers++
	trigger.TriggerID = fmt.Sprintf("t%d", f.createdTriggers)
	trigger.Path = workspacePath + "/triggers/" + trigger.TriggerID
	f.triggers = append(f.triggers, trigger)
	return &trigger, nil
}

func (f *fakeTagManager) DeleteTrigger(ctx context.Context, token, triggerPath string) error {
	f.deletedPaths = append(f.deletedPaths, triggerPath)
	return nil
}

func (f *fakeTagManager) ListTags(ctx context.Context, token, workspacePath string) ([]google.GTMTag, error) {
	return f.tags, f.listErr
}

func (f *fakeTagManager) CreateTag(ctx context.Context, token, workspacePath string, tag google.GTMTag) (*google.GTMTag, error) {
	f.createdTags++
	tag.TagID = fmt.Sprintf("tag%d", f.createdTags)
	tag.Path = workspacePath + "/tags/" + tag.TagID
	f.tags = append(f.tags, tag)
	return &tag, nil
}

func (f *fakeTagManager) GetTag(ctx context.Context, token, tagPath string) (*google.GTMTag, error) {
	if f.trashed[tagPath] {
		return nil, notFoundErr()
	}
	for i := range f.tags {
		if f.tags[i].Path == tagPath {
			return &f.tags[i], nil
		}
	}
	return nil, notFoundErr()
}

func (f *fakeTagManager) DeleteTag(ctx context.Context, token, tagPath string) error {
	f.deletedPaths = append(f.deletedPaths, tagPath)
	return nil
}

func (f *fakeTagManager) PublishWorkspace(ctx context.Context, token, workspacePath, versionName string) (*google.GTMVersion, error) {
	f.published = append(f.published, versionName)
	return &google.GTMVersion{Name: versionName}, nil
}

func TestFirstAccount(t *testing.T) {
	fake := &fakeTagManager{accounts: []google.GTMAccount{
		{AccountID: "100", Name: "First"},
		{AccountID: "200", Name: "Second"},
	}}
	r := NewGTM(fake)

	account, err := r.FirstAccount(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "100", account.AccountID)
}

func TestFirstAccountNoneAccessible(t *testing.T) {
	r := NewGTM(&fakeTagManager{})

	_, err := r.FirstAccount(context.Background(), "tok")
	assert.Error(t, err)
}

func TestEnsureContainerFindsMarked(t *testing.T) {
	fake := &fakeTagManager{containers: []google.GTMContainer{
		{ContainerID: "1", Name: "Customer Site"},
		{ContainerID: "2", Name: Marker + " - Acme"},
	}}
	r := NewGTM(fake)

	container, err := r.EnsureContainer(context.Background(), "tok", "100", "Acme")
	require.NoError(t, err)
	assert.Equal(t, "2", container.ContainerID)
	assert.Equal(t, 0, fake.createdContainers)
}

func TestEnsureContainerCreatesWhenAbsent(t *testing.T) {
	fake := &fakeTagManager{containers: []google.GTMContainer{
		{ContainerID: "1", Name: "Customer Site"},
	}}
	r := NewGTM(fake)

	container, err := r.EnsureContainer(context.Background(), "tok", "100", "Acme")
	require.NoError(t, err)
	assert.Contains(t, container.Name, Marker)
	assert.Equal(t, 1, fake.createdContainers)

	// A second ensure finds the new container instead of duplicating it.
	again, err := r.EnsureContainer(context.Background(), "tok", "100", "Acme")
	require.NoError(t, err)
	assert.Equal(t, container.ContainerID, again.ContainerID)
	assert.Equal(t, 1, fake.createdContainers)
}

func TestEnsureWorkspaceIdempotent(t *testing.T) {
	fake := &fakeTagManager{}
	r := NewGTM(fake)
	ctx := context.Background()

	first, err := r.EnsureWorkspace(ctx, "tok", "accounts/100/containers/c1")
	require.NoError(t, err)
	second, err := r.EnsureWorkspace(ctx, "tok", "accounts/100/containers/c1")
	require.NoError(t, err)

	assert.Equal(t, first.WorkspaceID, second.WorkspaceID)
	assert.Equal(t, 1, fake.createdWorkspaces)
}

func TestEnsureCustomVariablesSkipsExisting(t *testing.T) {
	fake := &fakeTagManager{}
	r := NewGTM(fake)
	ctx := context.Background()

	require.NoError(t, r.EnsureCustomVariables(ctx, "tok", "ws"))
	created := fake.createdVariables
	assert.Equal(t, len(customVariables), created)

	require.NoError(t, r.EnsureCustomVariables(ctx, "tok", "ws"))
	assert.Equal(t, created, fake.createdVariables)
}

func TestEnsureAllPagesTriggerIdempotent(t *testing.T) {
	fake := &fakeTagManager{}
	r := NewGTM(fake)
	ctx := context.Background()

	first, err := r.EnsureAllPagesTrigger(ctx, "tok", "ws")
	require.NoError(t, err)
	assert.Equal(t, "pageview", first.Type)

	second, err := r.EnsureAllPagesTrigger(ctx, "tok", "ws")
	require.NoError(t, err)
	assert.Equal(t, first.TriggerID, second.TriggerID)
	assert.Equal(t, 1, fake.createdTriggers)
}

func TestEnsureConversionLinkerTagIdempotent(t *testing.T) {
	fake := &fakeTagManager{}
	r := NewGTM(fake)
	ctx := context.Background()

	first, err := r.EnsureConversionLinkerTag(ctx, "tok", "ws", "t1")
	require.NoError(t, err)
	assert.Equal(t, "conversionLinker", first.Type)
	assert.Equal(t, []string{"t1"}, first.FiringTriggerID)

	_, err = r.EnsureConversionLinkerTag(ctx, "tok", "ws", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.createdTags)
}

func TestVerifyValidSetup(t *testing.T) {
	workspacePath := WorkspacePath("100", "c1", "w1")
	fake := &fakeTagManager{
		workspaces: []google.GTMWorkspace{{WorkspaceID: "w1", Name: workspaceName, Path: workspacePath}},
		tags: []google.GTMTag{{
			Name: conversionLinkerName,
			Path: workspacePath + "/tags/tag1",
		}},
	}
	r := NewGTM(fake)

	result := r.Verify(context.Background(), "tok", "100", "c1", "w1")
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestVerifyDetectsMissingWorkspace(t *testing.T) {
	r := NewGTM(&fakeTagManager{})

	result := r.Verify(context.Background(), "tok", "100", "c1", "w1")
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "workspace")
}

// A trashed tag still shows up in the list response but fails the direct get.
// Verify must catch that.
func TestVerifyDetectsTrashedTag(t *testing.T) {
	workspacePath := WorkspacePath("100", "c1", "w1")
	tagPath := workspacePath + "/tags/tag1"
	fake := &fakeTagManager{
		workspaces: []google.GTMWorkspace{{WorkspaceID: "w1", Name: workspaceName, Path: workspacePath}},
		tags:       []google.GTMTag{{Name: conversionLinkerName, Path: tagPath}},
		trashed:    map[string]bool{tagPath: true},
	}
	r := NewGTM(fake)

	result := r.Verify(context.Background(), "tok", "100", "c1", "w1")
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "conversion linker")
}

func TestVerifyDetectsMissingLinkerTag(t *testing.T) {
	workspacePath := WorkspacePath("100", "c1", "w1")
	fake := &fakeTagManager{
		workspaces: []google.GTMWorkspace{{WorkspaceID: "w1", Name: workspaceName, Path: workspacePath}},
		tags:       []google.GTMTag{{Name: "Unrelated", Path: workspacePath + "/tags/tag9"}},
	}
	r := NewGTM(fake)

	result := r.Verify(context.Background(), "tok", "100", "c1", "w1")
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "missing")
}
