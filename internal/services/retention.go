package services

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/netvault/backend/internal/models"
)

// PreviewResult describes what a retention run would delete, without
// touching anything.
type PreviewResult struct {
	SnapshotsToSoftDelete        []uint `json:"snapshots_to_soft_delete"`
	SnapshotsToPermanentlyDelete []uint `json:"snapshots_to_permanently_delete"`
	ProtectedKept                int    `json:"protected_kept"`
	ChangedKept                  int    `json:"changed_kept"`
	MinimumKept                  int    `json:"minimum_kept"`
	TotalStorageToFree           int64  `json:"total_storage_to_free"`
	DevicesAffected              int    `json:"devices_affected"`

	DeviceBreakdown map[string]*DeviceRetentionStats `json:"device_breakdown"`

	devicesAffected map[uint]bool
}

// DeviceRetentionStats is the per-device slice of a preview.
type DeviceRetentionStats struct {
	TotalSnapshots int   `json:"total_snapshots"`
	Candidates     int   `json:"candidates"`
	ToDelete       int   `json:"to_delete"`
	ProtectedKept  int   `json:"protected_kept"`
	ChangedKept    int   `json:"changed_kept"`
	MinimumKept    int   `json:"minimum_kept"`
	StorageToFree  int64 `json:"storage_to_free"`
}

// RetentionEngine applies the global retention policy: snapshots older than
// the retention window are soft-deleted, and soft-deleted snapshots past the
// grace period are removed permanently. Protection, keep_changed and
// keep_minimum exempt snapshots from the first phase; nothing exempts a
// snapshot from the second.
type RetentionEngine struct {
	db       *gorm.DB
	settings *models.RetentionSettings
	now      time.Time
}

// NewRetentionEngine creates an engine bound to a policy. The evaluation
// time is fixed at construction so preview and execute see the same cutoffs.
func NewRetentionEngine(db *gorm.DB, settings *models.RetentionSettings) *RetentionEngine {
	return &RetentionEngine{db: db, settings: settings, now: time.Now().UTC()}
}

func (e *RetentionEngine) cutoffDate() time.Time {
	return e.now.AddDate(0, 0, -e.settings.RetentionDays)
}

func (e *RetentionEngine) permanentDeleteCutoff() time.Time {
	return e.now.AddDate(0, 0, -e.settings.SoftDeleteGraceDays)
}

// Preview computes the deletion plan. Candidates are walked oldest first per
// device; the exemption checks apply in order: per-device minimum, explicit
// protection, changed snapshots when keep_changed is set.
func (e *RetentionEngine) Preview() (*PreviewResult, error) {
	result := &PreviewResult{
		DeviceBreakdown: make(map[string]*DeviceRetentionStats),
		devicesAffected: make(map[uint]bool),
	}

	var candidates []models.ConfigSnapshot
	err := e.db.Preload("Device").
		Where("is_deleted = ? AND created_at < ?", false, e.cutoffDate()).
		Order("device_id, created_at").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load retention candidates: %w", err)
	}

	// Total active snapshots per device, including ones inside the window;
	// the minimum is counted against the whole chain, not just candidates.
	type deviceCount struct {
		DeviceID uint
		Count    int
	}
	var counts []deviceCount
	err = e.db.Model(&models.ConfigSnapshot{}).
		Select("device_id, COUNT(id) AS count").
		Where("is_deleted = ?", false).
		Group("device_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count snapshots per device: %w", err)
	}
	totalCounts := make(map[uint]int, len(counts))
	for _, c := range counts {
		totalCounts[c.DeviceID] = c.Count
	}

	byDevice := make(map[uint][]models.ConfigSnapshot)
	var deviceOrder []uint
	for _, snapshot := range candidates {
		if _, ok := byDevice[snapshot.DeviceID]; !ok {
			deviceOrder = append(deviceOrder, snapshot.DeviceID)
		}
		byDevice[snapshot.DeviceID] = append(byDevice[snapshot.DeviceID], snapshot)
	}

	for _, deviceID := range deviceOrder {
		snapshots := byDevice[deviceID]
		deviceName := fmt.Sprintf("Device %d", deviceID)
		if snapshots[0].Device != nil {
			deviceName = snapshots[0].Device.Name
		}

		canDeleteCount := totalCounts[deviceID] - e.settings.KeepMinimum
		if canDeleteCount < 0 {
			canDeleteCount = 0
		}

		stats := &DeviceRetentionStats{
			TotalSnapshots: totalCounts[deviceID],
			Candidates:     len(snapshots),
		}

		deleted := 0
		for _, snapshot := range snapshots {
			if deleted >= canDeleteCount {
				stats.MinimumKept++
				result.MinimumKept++
				continue
			}
			if snapshot.IsProtected {
				stats.ProtectedKept++
				result.ProtectedKept++
				continue
			}
			if e.settings.KeepChanged && snapshot.HasChanged {
				stats.ChangedKept++
				result.ChangedKept++
				continue
			}

			result.SnapshotsToSoftDelete = append(result.SnapshotsToSoftDelete, snapshot.ID)
			result.devicesAffected[deviceID] = true
			result.TotalStorageToFree += int64(snapshot.ConfigSize)
			stats.ToDelete++
			stats.StorageToFree += int64(snapshot.ConfigSize)
			deleted++
		}

		if stats.ToDelete > 0 || stats.ProtectedKept > 0 {
			result.DeviceBreakdown[deviceName] = stats
		}
	}

	var expired []models.ConfigSnapshot
	err = e.db.Where("is_deleted = ? AND deleted_at < ?", true, e.permanentDeleteCutoff()).
		Find(&expired).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load expired soft-deleted snapshots: %w", err)
	}
	for _, snapshot := range expired {
		result.SnapshotsToPermanentlyDelete = append(result.SnapshotsToPermanentlyDelete, snapshot.ID)
		result.TotalStorageToFree += int64(snapshot.ConfigSize)
		result.devicesAffected[snapshot.DeviceID] = true
	}

	result.DevicesAffected = len(result.devicesAffected)
	return result, nil
}

// Execute runs the policy and records a RetentionExecution. The execution
// row is created before the deletion transaction so a failed run still
// leaves an auditable record.
func (e *RetentionEngine) Execute(triggerType, triggeredBy string) (*models.RetentionExecution, error) {
	execution := &models.RetentionExecution{
		Status:                    models.ExecStatusRunning,
		TriggerType:               triggerType,
		TriggeredBy:               triggeredBy,
		PolicyRetentionDays:       e.settings.RetentionDays,
		PolicyKeepChanged:         e.settings.KeepChanged,
		PolicyKeepMinimum:         e.settings.KeepMinimum,
		PolicySoftDeleteGraceDays: e.settings.SoftDeleteGraceDays,
	}
	if err := e.db.Create(execution).Error; err != nil {
		return nil, fmt.Errorf("failed to create retention execution: %w", err)
	}

	log.Printf("RetentionEngine: starting execution %d (trigger=%s)", execution.ID, triggerType)

	preview, err := e.Preview()
	if err != nil {
		if cErr := execution.Complete(e.db, false, err.Error()); cErr != nil {
			log.Printf("RetentionEngine: failed to mark execution %d failed: %v", execution.ID, cErr)
		}
		e.updateSettingsLastRun(false)
		return execution, err
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		var analyzed int64
		if err := tx.Model(&models.ConfigSnapshot{}).Where("is_deleted = ?", false).Count(&analyzed).Error; err != nil {
			return err
		}
		execution.SnapshotsAnalyzed = int(analyzed)

		if len(preview.SnapshotsToSoftDelete) > 0 {
			res := tx.Model(&models.ConfigSnapshot{}).
				Where("id IN ?", preview.SnapshotsToSoftDelete).
				Updates(map[string]interface{}{
					"is_deleted":              true,
					"deleted_at":              e.now,
					"deleted_by_retention_id": execution.ID,
				})
			if res.Error != nil {
				return res.Error
			}
			execution.SnapshotsSoftDeleted = int(res.RowsAffected)
			log.Printf("RetentionEngine: soft-deleted %d snapshots", res.RowsAffected)
		}

		if len(preview.SnapshotsToPermanentlyDelete) > 0 {
			res := tx.Where("id IN ?", preview.SnapshotsToPermanentlyDelete).
				Delete(&models.ConfigSnapshot{})
			if res.Error != nil {
				return res.Error
			}
			execution.SnapshotsPermanentlyDeleted = int(res.RowsAffected)
			log.Printf("RetentionEngine: permanently deleted %d snapshots", res.RowsAffected)
		}

		execution.SnapshotsProtectedKept = preview.ProtectedKept
		execution.SnapshotsChangedKept = preview.ChangedKept
		execution.SnapshotsMinimumKept = preview.MinimumKept
		execution.StorageFreedBytes = preview.TotalStorageToFree
		execution.DevicesAffected = preview.DevicesAffected
		return nil
	})

	if err != nil {
		log.Printf("RetentionEngine: execution %d failed: %v", execution.ID, err)
		if cErr := execution.Complete(e.db, false, err.Error()); cErr != nil {
			log.Printf("RetentionEngine: failed to mark execution %d failed: %v", execution.ID, cErr)
		}
		e.updateSettingsLastRun(false)
		return execution, err
	}

	if err := execution.Complete(e.db, true, ""); err != nil {
		return execution, fmt.Errorf("failed to complete retention execution %d: %w", execution.ID, err)
	}
	e.updateSettingsLastRun(true)

	log.Printf("RetentionEngine: execution %d completed: soft_deleted=%d, perm_deleted=%d, freed=%s",
		execution.ID, execution.SnapshotsSoftDeleted, execution.SnapshotsPermanentlyDeleted,
		execution.StorageFreedDisplay())

	return execution, nil
}

func (e *RetentionEngine) updateSettingsLastRun(success bool) {
	err := e.db.Model(&models.RetentionSettings{}).Where("id = ?", e.settings.ID).
		UpdateColumns(map[string]interface{}{
			"last_run_at":      e.now,
			"last_run_success": success,
		}).Error
	if err != nil {
		log.Printf("RetentionEngine: failed to update settings last run: %v", err)
	}
}

// RestoreSnapshot clears the soft-delete flag on a snapshot. Snapshots
// already permanently deleted cannot be restored.
func RestoreSnapshot(db *gorm.DB, snapshotID uint) error {
	res := db.Model(&models.ConfigSnapshot{}).
		Where("id = ? AND is_deleted = ?", snapshotID, true).
		Updates(map[string]interface{}{
			"is_deleted":              false,
			"deleted_at":              nil,
			"deleted_by_retention_id": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("snapshot %d not found or not deleted", snapshotID)
	}
	log.Printf("RetentionEngine: restored snapshot %d", snapshotID)
	return nil
}

// ProtectSnapshot exempts a snapshot from retention deletion.
func ProtectSnapshot(db *gorm.DB, snapshotID uint, reason string) error {
	res := db.Model(&models.ConfigSnapshot{}).
		Where("id = ?", snapshotID).
		Updates(map[string]interface{}{
			"is_protected":     true,
			"protected_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("snapshot %d not found", snapshotID)
	}
	log.Printf("RetentionEngine: protected snapshot %d: %s", snapshotID, reason)
	return nil
}

// UnprotectSnapshot removes retention protection from a snapshot.
func UnprotectSnapshot(db *gorm.DB, snapshotID uint) error {
	res := db.Model(&models.ConfigSnapshot{}).
		Where("id = ?", snapshotID).
		Updates(map[string]interface{}{
			"is_protected":     false,
			"protected_reason": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("snapshot %d not found", snapshotID)
	}
	log.Printf("RetentionEngine: unprotected snapshot %d", snapshotID)
	return nil
}
