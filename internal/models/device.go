package models

import (
	"strings"
	"time"
)

// BackupStatus values recorded on a device after its most recent capture
const (
	BackupStatusSuccess         = "success"
	BackupStatusFailed          = "failed"
	BackupStatusTimeout         = "timeout"
	BackupStatusAuthError       = "auth_error"
	BackupStatusConnectionError = "connection_error"
	BackupStatusEnableFailed    = "enable_mode_failed"
)

// Device represents a managed network device whose configuration is backed up.
// Inventory CRUD is owned by an external system; this service reads devices
// and updates only the last-backup tracking fields.
type Device struct {
	ID       uint   `gorm:"column:id;primaryKey" json:"id"`
	Name     string `gorm:"column:name;size:100;not null" json:"name"`
	Hostname string `gorm:"column:hostname;size:255;not null;uniqueIndex" json:"hostname"` // IP address or FQDN
	Port     int    `gorm:"column:port;default:22" json:"port"`
	Vendor   string `gorm:"column:vendor;size:50;not null;index" json:"vendor"`

	// Credentials
	Username     string `gorm:"column:username;size:100" json:"username"`
	Password     string `gorm:"column:password;size:255" json:"-"` // Hidden from API responses for security
	EnableSecret string `gorm:"column:enable_secret;size:255" json:"-"`

	GroupID *uint        `gorm:"column:group_id;index" json:"group_id"`
	Group   *DeviceGroup `gorm:"foreignKey:GroupID" json:"group,omitempty"`

	Tags string `gorm:"column:tags;size:500" json:"tags"` // Comma-separated labels

	// Status
	IsActive         bool       `gorm:"column:is_active;default:true" json:"is_active"`
	LastBackupAt     *time.Time `gorm:"column:last_backup_at" json:"last_backup_at"`
	LastBackupStatus string     `gorm:"column:last_backup_status;size:20" json:"last_backup_status"`

	// Timestamps
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Device) TableName() string {
	return "devices"
}

// DeviceGroup is a named collection of devices used to target backup jobs.
type DeviceGroup struct {
	ID          uint      `gorm:"column:id;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;size:100;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"column:description;size:255" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (DeviceGroup) TableName() string {
	return "device_groups"
}

// Vendor holds per-vendor capture command overrides. When a field is empty
// the driver falls back to its built-in defaults for that vendor.
type Vendor struct {
	ID   uint   `gorm:"column:id;primaryKey" json:"id"`
	Name string `gorm:"column:name;size:50;not null;uniqueIndex" json:"name"`

	// Commands, one per line
	PreBackupCommands  string `gorm:"column:pre_backup_commands;type:text" json:"pre_backup_commands"`
	BackupCommands     string `gorm:"column:backup_commands;type:text" json:"backup_commands"`
	PostBackupCommands string `gorm:"column:post_backup_commands;type:text" json:"post_backup_commands"`
	EnableCommand      string `gorm:"column:enable_command;size:100" json:"enable_command"`

	IsBuiltin bool      `gorm:"column:is_builtin;default:false" json:"is_builtin"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Vendor) TableName() string {
	return "vendors"
}

// splitLines returns the non-empty trimmed lines of a newline-separated field.
func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (v *Vendor) GetPreBackupCommandsList() []string {
	return splitLines(v.PreBackupCommands)
}

func (v *Vendor) GetBackupCommandsList() []string {
	return splitLines(v.BackupCommands)
}

func (v *Vendor) GetPostBackupCommandsList() []string {
	return splitLines(v.PostBackupCommands)
}
