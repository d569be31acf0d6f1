package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/oneclicktag/server/internal/integration"
	"github.com/oneclicktag/server/internal/models"
	"github.com/oneclicktag/server/internal/progress"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	db     *gorm.DB
	broker *progress.Broker
	svc    *integration.Service
}

// NewScheduler creates a new job scheduler
func NewScheduler(db *gorm.DB, broker *progress.Broker, svc *integration.Service) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		db:     db,
		broker: broker,
		svc:    svc,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Evict abandoned progress channels every 10 minutes
	s.cron.AddFunc("*/10 * * * *", func() {
		s.evictStaleChannels()
	})

	// Purge token records that can no longer be refreshed daily at 3:14 AM
	s.cron.AddFunc("14 3 * * *", func() {
		log.Println("Running token cleanup job...")
		s.cleanupDeadTokens()
	})

	// Drop FAILED trackings older than 30 days daily at 3:30 AM
	s.cron.AddFunc("30 3 * * *", func() {
		log.Println("Running tracking cleanup job...")
		s.cleanupFailedTrackings()
	})

	// Probe every connected customer daily at 4 AM so lost access shows up
	// in the logs before an operator notices a broken console
	s.cron.AddFunc("0 4 * * *", func() {
		log.Println("Running connection health snapshot...")
		s.snapshotConnectionHealth()
	})

	s.cron.Start()
	log.Println("Job scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Job scheduler stopped")
}

// evictStaleChannels closes progress channels nobody published to recently
func (s *Scheduler) evictStaleChannels() {
	evicted := s.broker.EvictStale(30 * time.Minute)
	if evicted > 0 {
		log.Printf("Evicted %d stale progress channels", evicted)
	}
}

// cleanupDeadTokens removes expired token records that carry no refresh token.
// These can never become usable again and only accumulate.
func (s *Scheduler) cleanupDeadTokens() {
	result := s.db.Exec(`
		DELETE FROM integration_tokens
		WHERE (refresh_token IS NULL OR refresh_token = '')
		AND expires_at < NOW() - INTERVAL '7 days'
	`)
	if result.Error != nil {
		log.Printf("Failed to cleanup dead tokens: %v", result.Error)
		return
	}

	if result.RowsAffected > 0 {
		log.Printf("Cleaned up %d dead token records", result.RowsAffected)
	}
}

// snapshotConnectionHealth probes each connected customer and logs every
// target that lost access
func (s *Scheduler) snapshotConnectionHealth() {
	var customers []models.Customer
	err := s.db.Where("google_account_id IS NOT NULL").Find(&customers).Error
	if err != nil {
		log.Printf("Health snapshot: failed to load customers: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	degraded := 0
	for _, customer := range customers {
		status, err := s.svc.GetConnectionStatus(ctx, customer.ID)
		if err != nil {
			log.Printf("Health snapshot: probe failed for customer %d: %v", customer.ID, err)
			continue
		}
		for target, result := range map[string]integration.TargetStatus{
			"ads": status.Ads, "gtm": status.GTM, "ga4": status.GA4,
		} {
			if !result.HasAccess {
				log.Printf("Health snapshot: customer %d lost %s access: %s", customer.ID, target, result.Error)
				degraded++
			}
		}
	}

	log.Printf("Health snapshot finished: %d customers probed, %d degraded targets", len(customers), degraded)
}

// cleanupFailedTrackings removes FAILED trackings past the retention window
func (s *Scheduler) cleanupFailedTrackings() {
	result := s.db.Exec(`
		DELETE FROM trackings
		WHERE status = 'FAILED'
		AND updated_at < NOW() - INTERVAL '30 days'
	`)
	if result.Error != nil {
		log.Printf("Failed to cleanup failed trackings: %v", result.Error)
		return
	}

	if result.RowsAffected > 0 {
		log.Printf("Cleaned up %d failed trackings", result.RowsAffected)
	}
}
