package integration

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/oneclicktag/server/internal/google"
	"github.com/oneclicktag/server/internal/models"
	"github.com/oneclicktag/server/internal/progress"
	"github.com/oneclicktag/server/internal/reconcile"
)

// OAuthAPI is the slice of the Google OAuth client the service consumes
type OAuthAPI interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, accessToken string) (*google.UserInfo, error)
}

// TokenStore is the token ledger surface the service consumes
type TokenStore interface {
	Store(ctx context.Context, customerID int, provider, scope string, tok *oauth2.Token) error
	Get(ctx context.Context, customerID int, provider, scope string) (*models.IntegrationToken, error)
	Revoke(ctx context.Context, customerID int, provider, scope string) error
	DeleteAll(ctx context.Context, customerID int) error
}

// Broadcaster pushes events to connected operator consoles. The websocket
// hub satisfies it; a nil Broadcaster is allowed.
type Broadcaster interface {
	BroadcastCustomer(customerID int, msgType string, payload interface{}) error
}

// Service drives the connect flow, health probing, tracking provisioning and
// disconnect against the three Google products
type Service struct {
	db     *gorm.DB
	oauth  OAuthAPI
	ledger TokenStore
	gtm    *reconcile.GTM
	ga4    *reconcile.GA4
	ads    *reconcile.Ads
	broker *progress.Broker
	hub    Broadcaster

	// stepTimeout bounds each provisioning step; a hung provider call
	// degrades that step instead of wedging the flow.
	stepTimeout time.Duration

	locks  customerLocks
	probes singleflight.Group
}

// NewService creates the integration service
func NewService(db *gorm.DB, oauth OAuthAPI, ledger TokenStore, gtm *reconcile.GTM, ga4 *reconcile.GA4, ads *reconcile.Ads, broker *progress.Broker, hub Broadcaster, stepTimeout time.Duration) *Service {
	if stepTimeout <= 0 {
		stepTimeout = 2 * time.Minute
	}
	return &Service{
		db:          db,
		oauth:       oauth,
		ledger:      ledger,
		gtm:         gtm,
		ga4:         ga4,
		ads:         ads,
		broker:      broker,
		hub:         hub,
		stepTimeout: stepTimeout,
		locks:       customerLocks{held: make(map[int]bool)},
	}
}

// Broker exposes the progress broker for subscription endpoints
func (s *Service) Broker() *progress.Broker {
	return s.broker
}

func (s *Service) loadCustomer(ctx context.Context, customerID int) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.WithContext(ctx).First(&customer, customerID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// publish fans an event out to progress subscribers and, when a hub is
// wired, to operator consoles
func (s *Service) publish(customerID int, event progress.Event) {
	s.broker.Publish(customerID, event)
	if s.hub != nil {
		payload := struct {
			CustomerID int `json:"customer_id"`
			progress.Event
		}{CustomerID: customerID, Event: event}
		if err := s.hub.BroadcastCustomer(customerID, "progress", payload); err != nil {
			log.Printf("Integration: hub broadcast failed: %v", err)
		}
	}
}

// customerLocks is a per-customer try-lock. Concurrent connect or disconnect
// calls for the same customer are rejected rather than interleaved.
type customerLocks struct {
	mu   sync.Mutex
	held map[int]bool
}

func (l *customerLocks) TryLock(customerID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[customerID] {
		return false
	}
	l.held[customerID] = true
	return true
}

func (l *customerLocks) Unlock(customerID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, customerID)
}
