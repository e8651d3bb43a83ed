package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Execution status values shared by BackupJob and JobExecution
const (
	ExecStatusPending   = "pending"
	ExecStatusRunning   = "running"
	ExecStatusCompleted = "completed"
	ExecStatusFailed    = "failed"
	ExecStatusPartial   = "partial"
)

// Schedule frequency values
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// BackupJob is a scheduled backup job definition targeting devices and/or
// device groups.
type BackupJob struct {
	ID          uint   `gorm:"column:id;primaryKey" json:"id"`
	Name        string `gorm:"column:name;size:100;not null" json:"name"`
	Description string `gorm:"column:description;type:text" json:"description"`

	// Targets
	Devices []Device      `gorm:"many2many:backup_job_devices" json:"devices,omitempty"`
	Groups  []DeviceGroup `gorm:"many2many:backup_job_groups" json:"groups,omitempty"`

	// Schedule
	IsEnabled  bool   `gorm:"column:is_enabled;default:true" json:"is_enabled"`
	Frequency  string `gorm:"column:frequency;size:20;default:daily" json:"frequency"`
	TimeOfDay  string `gorm:"column:time_of_day;size:10;default:02:00" json:"time_of_day"` // HH:MM
	DayOfWeek  int    `gorm:"column:day_of_week;default:0" json:"day_of_week"`             // 0=Sunday
	DayOfMonth int    `gorm:"column:day_of_month;default:1" json:"day_of_month"`

	// Parallel execution (1-20 devices at a time)
	Concurrency int `gorm:"column:concurrency;default:5" json:"concurrency"`

	// Notifications
	EmailOnCompletion bool   `gorm:"column:email_on_completion;default:true" json:"email_on_completion"`
	EmailOnFailure    bool   `gorm:"column:email_on_failure;default:true" json:"email_on_failure"`
	EmailRecipients   string `gorm:"column:email_recipients;type:text" json:"email_recipients"` // One address per line

	// Execution tracking
	LastRunAt     *time.Time `gorm:"column:last_run_at" json:"last_run_at"`
	LastRunStatus string     `gorm:"column:last_run_status;size:20" json:"last_run_status"`
	NextRunAt     *time.Time `gorm:"column:next_run_at" json:"next_run_at"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (BackupJob) TableName() string {
	return "backup_jobs"
}

// GetEmailRecipientsList returns the configured recipient addresses.
func (j *BackupJob) GetEmailRecipientsList() []string {
	var recipients []string
	for _, line := range strings.Split(j.EmailRecipients, "\n") {
		if addr := strings.TrimSpace(line); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	return recipients
}

// JobExecution records a single run of a backup job. The device counters are
// advanced by concurrent workers through atomic UPDATE expressions; once the
// execution reaches a terminal status the row is never mutated again.
type JobExecution struct {
	ID    uint       `gorm:"column:id;primaryKey" json:"id"`
	JobID uint       `gorm:"column:job_id;not null;index" json:"job_id"`
	Job   *BackupJob `gorm:"foreignKey:JobID" json:"job,omitempty"`

	Status      string     `gorm:"column:status;size:20;default:pending;index" json:"status"`
	StartedAt   time.Time  `gorm:"column:started_at;autoCreateTime" json:"started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at"`

	// Statistics
	TotalDevices      int `gorm:"column:total_devices;default:0" json:"total_devices"`
	SuccessfulDevices int `gorm:"column:successful_devices;default:0" json:"successful_devices"`
	FailedDevices     int `gorm:"column:failed_devices;default:0" json:"failed_devices"`
	ChangedDevices    int `gorm:"column:changed_devices;default:0" json:"changed_devices"`
	NewDevices        int `gorm:"column:new_devices;default:0" json:"new_devices"`

	// Append-only error log, one line per failed device
	ErrorLog string `gorm:"column:error_log;type:text" json:"error_log"`

	// Who triggered the run; empty for scheduled runs
	TriggeredBy string `gorm:"column:triggered_by;size:100" json:"triggered_by"`
}

func (JobExecution) TableName() string {
	return "job_executions"
}

// SuccessRate returns the success percentage for display.
func (e *JobExecution) SuccessRate() float64 {
	if e.TotalDevices == 0 {
		return 0
	}
	return float64(e.SuccessfulDevices) / float64(e.TotalDevices) * 100
}

// Duration returns the execution duration, using now for running executions.
func (e *JobExecution) Duration() time.Duration {
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(e.StartedAt)
	}
	return time.Since(e.StartedAt)
}

// DeriveStatus returns the terminal status implied by the device counters.
func (e *JobExecution) DeriveStatus() string {
	switch {
	case e.FailedDevices == 0:
		return ExecStatusCompleted
	case e.SuccessfulDevices == 0 && e.TotalDevices > 0:
		return ExecStatusFailed
	default:
		return ExecStatusPartial
	}
}

// SnapshotFailureStatuses lists every non-success snapshot status.
func SnapshotFailureStatuses() []string {
	return []string{
		BackupStatusFailed,
		BackupStatusTimeout,
		BackupStatusAuthError,
		BackupStatusConnectionError,
		BackupStatusEnableFailed,
	}
}

// ConfigSnapshot is one capture attempt for one device. Content, fingerprint
// and the change classification are frozen at creation; only the soft-delete
// and protection fields may change afterwards (retention engine / restore).
type ConfigSnapshot struct {
	ID       uint    `gorm:"column:id;primaryKey" json:"id"`
	DeviceID uint    `gorm:"column:device_id;not null;index:idx_snapshots_device_created" json:"device_id"`
	Device   *Device `gorm:"foreignKey:DeviceID" json:"device,omitempty"`

	// Associated job execution (null for ad-hoc backups)
	JobExecutionID *uint `gorm:"column:job_execution_id;index" json:"job_execution_id"`

	Status       string `gorm:"column:status;size:20;default:success;index" json:"status"`
	ErrorMessage string `gorm:"column:error_message;type:text" json:"error_message"`

	// Configuration content
	ConfigContent string `gorm:"column:config_content;type:text" json:"-"`
	ConfigHash    string `gorm:"column:config_hash;size:64;index" json:"config_hash"` // SHA-256 of the raw content
	ConfigSize    int    `gorm:"column:config_size;default:0" json:"config_size"`     // Bytes

	// Change detection, frozen at creation
	HasChanged         bool  `gorm:"column:has_changed;default:false;index" json:"has_changed"`
	IsFirstBackup      bool  `gorm:"column:is_first_backup;default:false" json:"is_first_backup"`
	PreviousSnapshotID *uint `gorm:"column:previous_snapshot_id" json:"previous_snapshot_id"`

	// Metadata
	VendorInfo     json.RawMessage `gorm:"column:vendor_info;type:json" json:"vendor_info"`
	BackupDuration float64         `gorm:"column:backup_duration;default:0" json:"backup_duration"` // Seconds

	CreatedAt time.Time `gorm:"column:created_at;index:idx_snapshots_device_created" json:"created_at"`

	// Soft delete (retention)
	IsDeleted            bool       `gorm:"column:is_deleted;default:false;index" json:"is_deleted"`
	DeletedAt            *time.Time `gorm:"column:deleted_at" json:"deleted_at"`
	DeletedByRetentionID *uint      `gorm:"column:deleted_by_retention_id" json:"deleted_by_retention_id"`

	// Protection from retention
	IsProtected     bool   `gorm:"column:is_protected;default:false;index" json:"is_protected"`
	ProtectedReason string `gorm:"column:protected_reason;size:255" json:"protected_reason"`
}

func (ConfigSnapshot) TableName() string {
	return "config_snapshots"
}

// IsFailure reports whether the snapshot records a failed capture.
func (s *ConfigSnapshot) IsFailure() bool {
	return s.Status != BackupStatusSuccess
}

// BeforeCreate computes the content fingerprint and classifies the snapshot
// against the device's most recent successful, non-deleted snapshot. The
// result is frozen: later deletion of the previous snapshot never changes it.
func (s *ConfigSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ConfigContent != "" {
		sum := sha256.Sum256([]byte(s.ConfigContent))
		s.ConfigHash = hex.EncodeToString(sum[:])
		s.ConfigSize = len(s.ConfigContent)
	}

	if s.Status != BackupStatusSuccess {
		return nil
	}

	var previous ConfigSnapshot
	err := tx.Where("device_id = ? AND status = ? AND is_deleted = ?", s.DeviceID, BackupStatusSuccess, false).
		Order("created_at DESC").
		First(&previous).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// First successful backup for this device
			s.IsFirstBackup = true
			s.HasChanged = false
			s.PreviousSnapshotID = nil
			return nil
		}
		return err
	}

	prevID := previous.ID
	s.PreviousSnapshotID = &prevID
	s.HasChanged = s.ConfigHash != previous.ConfigHash
	s.IsFirstBackup = false
	return nil
}
