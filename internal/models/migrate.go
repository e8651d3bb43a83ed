package models

import (
	"log"

	"gorm.io/gorm"
)

// SystemPreference represents system-wide preferences (SMTP, FTP mirror, ...)
type SystemPreference struct {
	ID        uint   `gorm:"column:id;primaryKey" json:"id"`
	Key       string `gorm:"column:key;size:100;uniqueIndex;not null" json:"key"`
	Value     string `gorm:"column:value;type:text" json:"value"`
	ValueType string `gorm:"column:value_type;size:20;default:string" json:"value_type"` // string, int, bool, json
}

func (SystemPreference) TableName() string {
	return "system_preferences"
}

// AutoMigrate creates or updates the schema for all models.
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	if err := db.AutoMigrate(
		&Device{},
		&DeviceGroup{},
		&Vendor{},
		&BackupJob{},
		&JobExecution{},
		&ConfigSnapshot{},
		&RetentionSettings{},
		&RetentionExecution{},
		&SystemPreference{},
	); err != nil {
		return err
	}

	log.Println("Database migrations completed successfully")
	return nil
}
