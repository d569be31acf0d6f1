package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oneclicktag/server/internal/google"
	"github.com/oneclicktag/server/internal/models"
	"github.com/oneclicktag/server/internal/progress"
	"github.com/oneclicktag/server/internal/reconcile"
	"github.com/oneclicktag/server/internal/tokens"
)

// fakeOAuth satisfies both the service's OAuthAPI and the ledger's Refresher
type fakeOAuth struct {
	exchangeErr error
	userInfoErr error
	revokeErr   error
	revoked     []string
}

func (f *fakeOAuth) AuthURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (f *fakeOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{
		AccessToken:  "at-" + code,
		RefreshToken: "rt-" + code,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeOAuth) UserInfo(ctx context.Context, accessToken string) (*google.UserInfo, error) {
	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}
	return &google.UserInfo{Subject: "sub-1", Email: "owner@acme.test"}, nil
}

func (f *fakeOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "at-refreshed", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeOAuth) Revoke(ctx context.Context, token string) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked = append(f.revoked, token)
	return nil
}

type fakeTagManager struct {
	accounts   []google.GTMAccount
	containers []google.GTMContainer
	workspaces []google.GTMWorkspace
	variables  []google.GTMVariable
	triggers   []google.GTMTrigger
	tags       []google.GTMTag

	createdTriggers int
	createdTags     int
	deletedPaths    []string
	published       []string

	listAccountsErr error
	createTagErr    error
	deleteErr       error
}

func (f *fakeTagManager) ListAccounts(ctx context.Context, token string) ([]google.GTMAccount, error) {
	return f.accounts, f.listAccountsErr
}

func (f *fakeTagManager) ListContainers(ctx context.Context, token, accountID string) ([]google.GTMContainer, error) {
	return f.containers, nil
}

func (f *fakeTagManager) CreateContainer(ctx context.Context, token, accountID string, c google.GTMContainer) (*google.GTMContainer, error) {
	c.ContainerID = fmt.Sprintf("c%d", len(f.containers)+1)
	f.containers = append(f.containers, c)
	return &c, nil
}

func (f *fakeTagManager) ListWorkspaces(ctx context.Context, token, containerPath string) ([]google.GTMWorkspace, error) {
	return f.workspaces, nil
}

func (f *fakeTagManager) CreateWorkspace(ctx context.Context, token, containerPath string, ws google.GTMWorkspace) (*google.GTMWorkspace, error) {
	ws.WorkspaceID = fmt.Sprintf("w%d", len(f.workspaces)+1)
	ws.Path = containerPath + "/workspaces/" + ws.WorkspaceID
	f.workspaces = append(f.workspaces, ws)
	return &ws, nil
}

func (f *fakeTagManager) GetWorkspace(ctx context.Context, token, workspacePath string) (*google.GTMWorkspace, error) {
	for i := range f.workspaces {
		if f.workspaces[i].Path == workspacePath {
			return &f.workspaces[i], nil
		}
	}
	return nil, &google.APIError{StatusCode: 404, Status: "NOT_FOUND", Message: "not found"}
}

func (f *fakeTagManager) EnableBuiltInVariables(ctx context.Context, token, workspacePath string, types []string) error {
	return nil
}

func (f *fakeTagManager) ListVariables(ctx context.Context, token, workspacePath string) ([]google.GTMVariable, error) {
	return f.variables, nil
}

func (f *fakeTagManager) CreateVariable(ctx context.Context, token, workspacePath string, v google.GTMVariable) (*google.GTMVariable, error) {
	f.variables = append(f.variables, v)
	return &v, nil
}

func (f *fakeTagManager) ListTriggers(ctx context.Context, token, workspacePath string) ([]google.GTMTrigger, error) {
	return f.triggers, nil
}

func (f *fakeTagManager) CreateTrigger(ctx context.Context, token, workspacePath string, trigger google.GTMTrigger) (*google.GTMTrigger, error) {
	f.createdTriggers++
	trigger.TriggerID = fmt.Sprintf("t%d", f.createdTriggers)
	trigger.Path = workspacePath + "/triggers/" + trigger.TriggerID
	f.triggers = append(f.triggers, trigger)
	return &trigger, nil
}

func (f *fakeTagManager) DeleteTrigger(ctx context.Context, token, triggerPath string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedPaths = append(f.deletedPaths, triggerPath)
	return nil
}

func (f *fakeTagManager) ListTags(ctx context.Context, token, workspacePath string) ([]google.GTMTag, error) {
	return f.tags, nil
}

func (f *fakeTagManager) CreateTag(ctx context.Context, token, workspacePath string, tag google.GTMTag) (*google.GTMTag, error) {
	if f.createTagErr != nil {
		return nil, f.createTagErr
	}
	f.createdTags++
	tag.TagID = fmt.Sprintf("tag%d", f.createdTags)
	tag.Path = workspacePath + "/tags/" + tag.TagID
	f.tags = append(f.tags, tag)
	return &tag, nil
}

func (f *fakeTagManager) GetTag(ctx context.Context, token, tagPath string) (*google.GTMTag, error) {
	for i := range f.tags {
		if f.tags[i].Path == tagPath {
			return &f.tags[i], nil
		}
	}
	return nil, &google.APIError{StatusCode: 404, Status: "NOT_FOUND", Message: "not found"}
}

func (f *fakeTagManager) DeleteTag(ctx context.Context, token, tagPath string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedPaths = append(f.deletedPaths, tagPath)
	return nil
}

func (f *fakeTagManager) PublishWorkspace(ctx context.Context, token, workspacePath, versionName string) (*google.GTMVersion, error) {
	f.published = append(f.published, versionName)
	return &google.GTMVersion{Name: versionName}, nil
}

type fakeAnalytics struct {
	summaries []google.GA4AccountSummary
	deleted   map[string][]google.GA4Property
	streams   map[string][]google.GA4DataStream

	createdProperties int
	listErr           error
}

func (f *fakeAnalytics) ListAccountSummaries(ctx context.Context, token string) ([]google.GA4AccountSummary, error) {
	return f.summaries, f.listErr
}

func (f *fakeAnalytics) GetProperty(ctx context.Context, token, name string) (*google.GA4Property, error) {
	for _, account := range f.summaries {
		for _, prop := range account.PropertySummaries {
			if prop.Property == name {
				return &google.GA4Property{Name: name, DisplayName: prop.DisplayName}, nil
			}
		}
	}
	return nil, &google.APIError{StatusCode: 404, Status: "NOT_FOUND", Message: "not found"}
}

func (f *fakeAnalytics) CreateProperty(ctx context.Context, token string, property google.GA4Property) (*google.GA4Property, error) {
	f.createdProperties++
	property.Name = fmt.Sprintf("properties/%d", 1000+f.createdProperties)
	for i := range f.summaries {
		if f.summaries[i].Account == property.Parent {
			f.summaries[i].PropertySummaries = append(f.summaries[i].PropertySummaries, google.GA4PropertySummary{
				Property:    property.Name,
				DisplayName: property.DisplayName,
			})
		}
	}
	return &property, nil
}

func (f *fakeAnalytics) ListDeletedProperties(ctx context.Context, token, account string) ([]google.GA4Property, error) {
	return f.deleted[account], nil
}

func (f *fakeAnalytics) RestoreProperty(ctx context.Context, token, name string) (*google.GA4Property, error) {
	return &google.GA4Property{Name: name}, nil
}

func (f *fakeAnalytics) ListDataStreams(ctx context.Context, token, propertyName string) ([]google.GA4DataStream, error) {
	return f.streams[propertyName], nil
}

func (f *fakeAnalytics) CreateDataStream(ctx context.Context, token, propertyName string, stream google.GA4DataStream) (*google.GA4DataStream, error) {
	stream.WebStreamData = &google.GA4WebStreamData{MeasurementID: "G-TEST1"}
	if f.streams == nil {
		f.streams = make(map[string][]google.GA4DataStream)
	}
	f.streams[propertyName] = append(f.streams[propertyName], stream)
	return &stream, nil
}

type fakeAdsAPI struct {
	resourceNames []string
	customers     map[string]*google.AdsCustomer
	actions       []google.ConversionAction

	createdActions  int
	deletedActions  []string
	listErr         error
	deleteActionErr error
}

func (f *fakeAdsAPI) ListAccessibleCustomers(ctx context.Context, token string) ([]string, error) {
	return f.resourceNames, f.listErr
}

func (f *fakeAdsAPI) GetCustomer(ctx context.Context, token, customerID string) (*google.AdsCustomer, error) {
	customer, ok := f.customers[customerID]
	if !ok {
		return nil, &google.APIError{StatusCode: 403, Status: "PERMISSION_DENIED", Message: "denied"}
	}
	return customer, nil
}

func (f *fakeAdsAPI) ListConversionActions(ctx context.Context, token, customerID string) ([]google.ConversionAction, error) {
	return f.actions, nil
}

func (f *fakeAdsAPI) CreateConversionAction(ctx context.Context, token, customerID, name string) (*google.ConversionAction, error) {
	f.createdActions++
	action := google.ConversionAction{
		ResourceName: fmt.Sprintf("customers/%s/conversionActions/%d", customerID, f.createdActions),
		ID:           fmt.Sprintf("%d", f.createdActions),
		Name:         name,
		Label:        fmt.Sprintf("label-%d", f.createdActions),
	}
	f.actions = append(f.actions, action)
	return &action, nil
}

func (f *fakeAdsAPI) DeleteConversionAction(ctx context.Context, token, customerID, resourceName string) error {
	if f.deleteActionErr != nil {
		return f.deleteActionErr
	}
	f.deletedActions = append(f.deletedActions, resourceName)
	return nil
}

type testEnv struct {
	svc   *Service
	db    *gorm.DB
	oauth *fakeOAuth
	tm    *fakeTagManager
	ga    *fakeAnalytics
	adsF  *fakeAdsAPI
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Customer{}, &models.IntegrationToken{},
		&models.Tracking{}, &models.AdsAccount{},
	))

	oauthF := &fakeOAuth{}
	tm := &fakeTagManager{accounts: []google.GTMAccount{{AccountID: "100", Name: "Acme"}}}
	ga := &fakeAnalytics{summaries: []google.GA4AccountSummary{{Account: "accounts/1"}}}
	adsF := &fakeAdsAPI{
		resourceNames: []string{"customers/111"},
		customers: map[string]*google.AdsCustomer{
			"111": {ResourceName: "customers/111", ID: "111", DescriptiveName: "Acme Ads"},
		},
	}

	ledger := tokens.NewLedger(db, oauthF)
	svc := NewService(db, oauthF, ledger,
		reconcile.NewGTM(tm), reconcile.NewGA4(ga), reconcile.NewAds(adsF),
		progress.NewBroker(), nil, time.Minute)

	return &testEnv{svc: svc, db: db, oauth: oauthF, tm: tm, ga: ga, adsF: adsF}
}

func (e *testEnv) seedCustomer(t *testing.T) *models.Customer {
	t.Helper()
	customer := models.Customer{UserID: 1, Name: "Acme", Domain: "acme.test"}
	require.NoError(t, e.db.Create(&customer).Error)
	return &customer
}

// collectEvents subscribes before the flow starts and returns a function that
// waits for the channel to close and hands back everything received
func (e *testEnv) collectEvents(t *testing.T, customerID int) func() []progress.Event {
	t.Helper()
	events, cancel := e.svc.Broker().Subscribe(customerID)

	done := make(chan []progress.Event, 1)
	go func() {
		var collected []progress.Event
		for ev := range events {
			collected = append(collected, ev)
		}
		done <- collected
	}()

	return func() []progress.Event {
		defer cancel()
		select {
		case collected := <-done:
			return collected
		case <-time.After(5 * time.Second):
			t.Fatal("progress channel never closed")
			return nil
		}
	}
}

// stepStatuses flattens events into "step:status" strings for order checks
func stepStatuses(events []progress.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Step + ":" + ev.Status
	}
	return out
}
