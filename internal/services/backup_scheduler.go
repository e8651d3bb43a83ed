package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/netvault/backend/internal/models"
)

// BackupSchedulerService launches backup jobs at their scheduled times. It
// checks every minute which enabled jobs are due and hands them to the
// runner.
type BackupSchedulerService struct {
	db       *gorm.DB
	runner   *BackupRunner
	stopChan chan struct{}
}

func NewBackupSchedulerService(db *gorm.DB, runner *BackupRunner) *BackupSchedulerService {
	return &BackupSchedulerService{
		db:       db,
		runner:   runner,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *BackupSchedulerService) Start() {
	log.Println("BackupScheduler: starting backup scheduler service")

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.checkSchedules()
			case <-s.stopChan:
				log.Println("BackupScheduler: stopping backup scheduler service")
				return
			}
		}
	}()
}

// Stop stops the scheduler loop.
func (s *BackupSchedulerService) Stop() {
	close(s.stopChan)
}

func (s *BackupSchedulerService) checkSchedules() {
	var jobs []models.BackupJob
	if err := s.db.Where("is_enabled = ?", true).Find(&jobs).Error; err != nil {
		log.Printf("BackupScheduler: error fetching jobs: %v", err)
		return
	}

	now := time.Now()
	for _, job := range jobs {
		if !s.isDue(&job, now) {
			continue
		}
		// Skip if this minute's run already started
		if job.LastRunAt != nil && now.Sub(*job.LastRunAt) < time.Minute {
			continue
		}

		log.Printf("BackupScheduler: job '%s' is due, launching", job.Name)
		next := s.calculateNextRun(&job, now)
		s.db.Model(&job).UpdateColumn("next_run_at", next)

		go func(jobID uint, name string) {
			if _, err := s.runner.RunJob(context.Background(), jobID, ""); err != nil {
				log.Printf("BackupScheduler: scheduled run of job '%s' failed: %v", name, err)
			}
		}(job.ID, job.Name)
	}
}

// isDue reports whether the job's schedule matches the current minute.
func (s *BackupSchedulerService) isDue(job *models.BackupJob, now time.Time) bool {
	var hour, minute int
	if _, err := fmt.Sscanf(job.TimeOfDay, "%d:%d", &hour, &minute); err != nil {
		log.Printf("BackupScheduler: job '%s' has invalid time_of_day %q", job.Name, job.TimeOfDay)
		return false
	}

	if now.Hour() != hour || now.Minute() != minute {
		return false
	}

	switch job.Frequency {
	case models.FrequencyDaily:
		return true
	case models.FrequencyWeekly:
		return int(now.Weekday()) == job.DayOfWeek
	case models.FrequencyMonthly:
		return now.Day() == job.DayOfMonth
	default:
		return false
	}
}

// calculateNextRun returns the next time the job's schedule fires after now.
func (s *BackupSchedulerService) calculateNextRun(job *models.BackupJob, now time.Time) time.Time {
	var hour, minute int
	fmt.Sscanf(job.TimeOfDay, "%d:%d", &hour, &minute)

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	switch job.Frequency {
	case models.FrequencyDaily:
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
	case models.FrequencyWeekly:
		daysAhead := (job.DayOfWeek - int(now.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, daysAhead)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
	case models.FrequencyMonthly:
		next = time.Date(now.Year(), now.Month(), job.DayOfMonth, hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
	default:
		next = next.AddDate(0, 0, 1)
	}

	return next
}
