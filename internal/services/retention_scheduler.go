package services

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/netvault/backend/internal/models"
)

// RetentionSchedulerService runs the retention policy once a day at the
// configured hour, when the policy is enabled.
type RetentionSchedulerService struct {
	db       *gorm.DB
	stopChan chan struct{}
}

func NewRetentionSchedulerService(db *gorm.DB) *RetentionSchedulerService {
	return &RetentionSchedulerService{
		db:       db,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *RetentionSchedulerService) Start() {
	log.Println("RetentionScheduler: starting retention scheduler service")

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.checkSchedule()
			case <-s.stopChan:
				log.Println("RetentionScheduler: stopping retention scheduler service")
				return
			}
		}
	}()
}

// Stop stops the scheduler loop.
func (s *RetentionSchedulerService) Stop() {
	close(s.stopChan)
}

func (s *RetentionSchedulerService) checkSchedule() {
	settings, err := models.GetRetentionSettings(s.db)
	if err != nil {
		log.Printf("RetentionScheduler: failed to load settings: %v", err)
		return
	}

	if !settings.IsEnabled {
		return
	}

	now := time.Now()
	if now.Hour() != settings.RunHour || now.Minute() != 0 {
		return
	}
	// One run per day even if the process restarts inside the window
	if settings.LastRunAt != nil && now.Sub(*settings.LastRunAt) < time.Hour {
		return
	}

	log.Printf("RetentionScheduler: daily retention run due (hour=%d)", settings.RunHour)
	go func() {
		engine := NewRetentionEngine(s.db, settings)
		if _, err := engine.Execute(models.TriggerScheduled, ""); err != nil {
			log.Printf("RetentionScheduler: scheduled retention run failed: %v", err)
		}
	}()
}
