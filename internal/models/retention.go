package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Retention trigger types
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// RetentionSettings is the single-row global retention policy.
type RetentionSettings struct {
	ID uint `gorm:"column:id;primaryKey" json:"id"`

	IsEnabled     bool `gorm:"column:is_enabled;default:true" json:"is_enabled"`
	RetentionDays int  `gorm:"column:retention_days;default:365" json:"retention_days"`

	// Protection rules
	KeepChanged bool `gorm:"column:keep_changed;default:true" json:"keep_changed"`
	KeepMinimum int  `gorm:"column:keep_minimum;default:1" json:"keep_minimum"` // Per device, regardless of age

	// Days before soft-deleted snapshots are permanently removed
	SoftDeleteGraceDays int `gorm:"column:soft_delete_grace_days;default:7" json:"soft_delete_grace_days"`

	// Daily schedule hour (0-23)
	RunHour int `gorm:"column:run_hour;default:3" json:"run_hour"`

	// Execution tracking
	LastRunAt      *time.Time `gorm:"column:last_run_at" json:"last_run_at"`
	LastRunSuccess bool       `gorm:"column:last_run_success;default:true" json:"last_run_success"`

	UpdatedBy string    `gorm:"column:updated_by;size:100" json:"updated_by"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (RetentionSettings) TableName() string {
	return "retention_settings"
}

// GetRetentionSettings loads the settings row, creating defaults when absent.
func GetRetentionSettings(db *gorm.DB) (*RetentionSettings, error) {
	var settings RetentionSettings
	err := db.First(&settings).Error
	if err == gorm.ErrRecordNotFound {
		settings = RetentionSettings{
			IsEnabled:           true,
			RetentionDays:       365,
			KeepChanged:         true,
			KeepMinimum:         1,
			SoftDeleteGraceDays: 7,
			RunHour:             3,
			LastRunSuccess:      true,
		}
		if err := db.Create(&settings).Error; err != nil {
			return nil, err
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// RetentionExecution records one run of the retention policy, including a
// snapshot of the policy values that were applied. Immutable once completed.
type RetentionExecution struct {
	ID uint `gorm:"column:id;primaryKey" json:"id"`

	Status      string `gorm:"column:status;size:20;default:running" json:"status"`
	TriggerType string `gorm:"column:trigger_type;size:20;default:scheduled" json:"trigger_type"`
	TriggeredBy string `gorm:"column:triggered_by;size:100" json:"triggered_by"`

	StartedAt       time.Time  `gorm:"column:started_at;autoCreateTime" json:"started_at"`
	CompletedAt     *time.Time `gorm:"column:completed_at" json:"completed_at"`
	DurationSeconds float64    `gorm:"column:duration_seconds;default:0" json:"duration_seconds"`

	// Policy snapshot
	PolicyRetentionDays       int  `gorm:"column:policy_retention_days" json:"policy_retention_days"`
	PolicyKeepChanged         bool `gorm:"column:policy_keep_changed" json:"policy_keep_changed"`
	PolicyKeepMinimum         int  `gorm:"column:policy_keep_minimum" json:"policy_keep_minimum"`
	PolicySoftDeleteGraceDays int  `gorm:"column:policy_soft_delete_grace_days" json:"policy_soft_delete_grace_days"`

	// Results
	SnapshotsAnalyzed           int   `gorm:"column:snapshots_analyzed;default:0" json:"snapshots_analyzed"`
	SnapshotsSoftDeleted        int   `gorm:"column:snapshots_soft_deleted;default:0" json:"snapshots_soft_deleted"`
	SnapshotsPermanentlyDeleted int   `gorm:"column:snapshots_permanently_deleted;default:0" json:"snapshots_permanently_deleted"`
	SnapshotsProtectedKept      int   `gorm:"column:snapshots_protected_kept;default:0" json:"snapshots_protected_kept"`
	SnapshotsChangedKept        int   `gorm:"column:snapshots_changed_kept;default:0" json:"snapshots_changed_kept"`
	SnapshotsMinimumKept        int   `gorm:"column:snapshots_minimum_kept;default:0" json:"snapshots_minimum_kept"`
	StorageFreedBytes           int64 `gorm:"column:storage_freed_bytes;default:0" json:"storage_freed_bytes"`
	DevicesAffected             int   `gorm:"column:devices_affected;default:0" json:"devices_affected"`

	ErrorMessage string `gorm:"column:error_message;type:text" json:"error_message"`
	Warnings     string `gorm:"column:warnings;type:text" json:"warnings"`
}

func (RetentionExecution) TableName() string {
	return "retention_executions"
}

// Complete marks the execution finished and records its duration.
func (e *RetentionExecution) Complete(db *gorm.DB, success bool, errorMessage string) error {
	now := time.Now().UTC()
	e.CompletedAt = &now
	e.DurationSeconds = now.Sub(e.StartedAt).Seconds()
	if success {
		e.Status = ExecStatusCompleted
	} else {
		e.Status = ExecStatusFailed
	}
	if errorMessage != "" {
		e.ErrorMessage = errorMessage
	}
	return db.Save(e).Error
}

// StorageFreedDisplay renders the freed bytes in human-readable form.
func (e *RetentionExecution) StorageFreedDisplay() string {
	val := float64(e.StorageFreedBytes)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if val < 1024 {
			return fmt.Sprintf("%.1f %s", val, unit)
		}
		val /= 1024
	}
	return fmt.Sprintf("%.1f TB", val)
}
