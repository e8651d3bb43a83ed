package services

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/netvault/backend/internal/models"
)

func retentionSettings(days, keepMin, graceDays int, keepChanged bool) *models.RetentionSettings {
	return &models.RetentionSettings{
		ID:                  1,
		IsEnabled:           true,
		RetentionDays:       days,
		KeepChanged:         keepChanged,
		KeepMinimum:         keepMin,
		SoftDeleteGraceDays: graceDays,
		RunHour:             3,
	}
}

// seedSnapshot inserts a snapshot with a controlled created_at, bypassing
// the creation hook so tests can build arbitrary histories.
func seedSnapshot(t *testing.T, db *gorm.DB, deviceID uint, ageDays int, opts func(*models.ConfigSnapshot)) *models.ConfigSnapshot {
	t.Helper()
	snapshot := &models.ConfigSnapshot{
		DeviceID:   deviceID,
		Status:     models.BackupStatusSuccess,
		ConfigSize: 1000,
	}
	if opts != nil {
		opts(snapshot)
	}
	if err := db.Session(&gorm.Session{SkipHooks: true}).Create(snapshot).Error; err != nil {
		t.Fatalf("failed to seed snapshot: %v", err)
	}
	createdAt := time.Now().UTC().AddDate(0, 0, -ageDays)
	if err := db.Model(snapshot).UpdateColumn("created_at", createdAt).Error; err != nil {
		t.Fatalf("failed to backdate snapshot: %v", err)
	}
	snapshot.CreatedAt = createdAt
	return snapshot
}

func seedRetentionDevice(t *testing.T, db *gorm.DB, name string) models.Device {
	t.Helper()
	device := models.Device{Name: name, Hostname: name + ".example.net", Vendor: "cisco", IsActive: true}
	if err := db.Create(&device).Error; err != nil {
		t.Fatalf("failed to create device: %v", err)
	}
	return device
}

func saveSettings(t *testing.T, db *gorm.DB, settings *models.RetentionSettings) {
	t.Helper()
	if err := db.Create(settings).Error; err != nil {
		t.Fatalf("failed to create settings: %v", err)
	}
}

func TestPreviewSoftDeletesOldUnchanged(t *testing.T) {
	db := testDB(t)
	device := seedRetentionDevice(t, db, "sw1")

	old := seedSnapshot(t, db, device.ID, 400, nil)
	recent := seedSnapshot(t, db, device.ID, 10, nil)

	settings := retentionSettings(365, 0, 7, false)
	engine := NewRetentionEngine(db, settings)

	preview, err := engine.Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	if len(preview.SnapshotsToSoftDelete) != 1 || preview.SnapshotsToSoftDelete[0] != old.ID {
		t.Fatalf("soft delete plan = %v, want [%d]", preview.SnapshotsToSoftDelete, old.ID)
	}
	if len(preview.SnapshotsToPermanentlyDelete) != 0 {
		t.Fatalf("nothing should be permanently deleted, got %v", preview.SnapshotsToPermanentlyDelete)
	}
	if preview.TotalStorageToFree != 1000 {
		t.Fatalf("storage = %d, want 1000", preview.TotalStorageToFree)
	}
	_ = recent
}

func TestPreviewKeepMinimumSparesOldestFirst(t *testing.T) {
	db := testDB(t)
	device := seedRetentionDevice(t, db, "sw1")

	// Five snapshots, all past the window, none recent. keep_minimum=2
	// allows deleting three; the walk is oldest first, so the two newest
	// candidates survive via the minimum.
	var ids []uint
	for i := 0; i < 5; i++ {
		s := seedSnapshot(t, db, device.ID, 500-i*10, nil)
		ids = append(ids, s.ID)
	}

	settings := retentionSettings(365, 2, 7, false)
	engine := NewRetentionEngine(db, settings)

	preview, err := engine.Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	if len(preview.SnapshotsToSoftDelete) != 3 {
		t.Fatalf("plan = %v, want 3 deletions", preview.SnapshotsToSoftDelete)
	}
	planned := make(map[uint]bool)
	for _, id := range preview.SnapshotsToSoftDelete {
		planned[id] = true
	}
	// Oldest three deleted, newest two kept
	for _, id := range ids[:3] {
		if !planned[id] {
			t.Fatalf("oldest snapshot %d should be in the plan", id)
		}
	}
	for _, id := range ids[3:] {
		if planned[id] {
			t.Fatalf("snapshot %d should be spared by keep_minimum", id)
		}
	}
	if preview.MinimumKept != 2 {
		t.Fatalf("minimum kept = %d, want 2", preview.MinimumKept)
	}
}

func TestPreviewMinimumCountsRecentSnapshots(t *testing.T) {
	db := testDB(t)
	device := seedRetentionDevice(t, db, "sw1")

	// One old candidate plus two recent snapshots. The recent ones already
	// satisfy keep_minimum=2, so the old candidate is deletable.
	old := seedSnapshot(t, db, device.ID, 400, nil)
	seedSnapshot(t, db, device.ID, 5, nil)
	seedSnapshot(t, db, device.ID, 3, nil)

	settings := retentionSettings(365, 2, 7, false)
	preview, err := NewRetentionEngine(db, settings).Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	if len(preview.SnapshotsToSoftDelete) != 1 || preview.SnapshotsToSoftDelete[0] != old.ID {
		t.Fatalf("plan = %v, want [%d]", preview.SnapshotsToSoftDelete, old.ID)
	}
}

func TestPreviewProtectionAndKeepChanged(t *testing.T) {
	db := testDB(t)
	device := seedRetentionDevice(t, db, "sw1")

	protected := seedSnapshot(t, db, device.ID, 500, func(s *models.ConfigSnapshot) {
		s.IsProtected = true
		s.ProtectedReason = "golden config"
	})
	changed := seedSnapshot(t, db, device.ID, 450, func(s *models.ConfigSnapshot) {
		s.HasChanged = true
	})
	plain := seedSnapshot(t, db, device.ID, 400, nil)
	seedSnapshot(t, db, device.ID, 5, nil)

	settings := retentionSettings(365, 0, 7, true)
	preview, err := NewRetentionEngine(db, settings).Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	if len(preview.SnapshotsToSoftDelete) != 1 || preview.SnapshotsToSoftDelete[0] != plain.ID {
		t.Fatalf("plan = %v, want only %d", preview.SnapshotsToSoftDelete, plain.ID)
	}
	if preview.ProtectedKept != 1 || preview.ChangedKept != 1 {
		t.Fatalf("kept = protected %d / changed %d, want 1/1", preview.ProtectedKept, preview.ChangedKept)
	}
	_, _ = protected, changed
}

func TestPreviewKeepChangedDisabled(t *testing.T) {
	db := testDB(t)
	device := seedRetentionDevice(t, db, "sw1")

	changed := seedSnapshot(t, db, device.ID, 450, func(s *models.ConfigSnapshot) {
		s.HasChanged = true
	})
	seedSnapshot(t, db, device.ID, 5, nil)

	settings := retentionSettings(365, 0, 7, false)
	preview, err := NewRetentionEngine(db, settings).Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	if len(preview.SnapshotsToSoftDelete) != 1 || preview.SnapshotsToSoftDelete[0] != changed.ID {
		t.Fatalf("changed snapshot should be deletable when keep_changed is off, plan = %v", preview.SnapshotsToSoftDelete)
	}
}

func TestPreviewGracePeriod(t *testing.T) {
	db := testDB(t)
	device := seedRetentionDevice(t, db, "sw1")

	// Soft-deleted 10 days ago: past the 7-day grace, permanent delete.
	expired := seedSnapshot(t, db, device.ID, 500, func(s *models.ConfigSnapshot) {
		s.IsDeleted = true
	})
	expiredAt := time.Now().UTC().AddDate(0, 0, -10)
	db.Model(expired).UpdateColumn("deleted_at", expiredAt)

	// Soft-deleted yesterday: still in grace.
	fresh := seedSnapshot(t, db, device.ID, 500, func(s *models.ConfigSnapshot) {
		s.IsDeleted = true
	})
	freshAt := time.Now().UTC().AddDate(0, 0, -1)
	db.Model(fresh).UpdateColumn("deleted_at", freshAt)

	settings := retentionSettings(365, 0, 7, false)
	preview, err := NewRetentionEngine(db, settings).Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	if len(preview.SnapshotsToPermanentlyDelete) != 1 || preview.SnapshotsToPermanentlyDelete[0] != expired.ID {
		t.Fatalf("permanent plan = %v, want [%d]", preview.SnapshotsToPermanentlyDelete, expired.ID)
	}
	// Soft-deleted snapshots are never candidates for soft deletion again
	if len(preview.SnapshotsToSoftDelete) != 0 {
		t.Fatalf("soft plan = %v, want empty", preview.SnapshotsToSoftDelete)
	}
}

func TestExecuteTwoPhase(t *testing.T) {
	db := testDB(t)
	settings := retentionSettings(365, 1, 7, true)
	saveSettings(t, db, settings)
	device := seedRetentionDevice(t, db, "sw1")

	old1 := seedSnapshot(t, db, device.ID, 500, nil)
	old2 := seedSnapshot(t, db, device.ID, 450, nil)
	seedSnapshot(t, db, device.ID, 5, nil)

	expired := seedSnapshot(t, db, device.ID, 600, func(s *models.ConfigSnapshot) {
		s.IsDeleted = true
	})
	db.Model(expired).UpdateColumn("deleted_at", time.Now().UTC().AddDate(0, 0, -30))

	engine := NewRetentionEngine(db, settings)
	execution, err := engine.Execute(models.TriggerManual, "admin")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if execution.Status != models.ExecStatusCompleted {
		t.Fatalf("status = %s, want completed", execution.Status)
	}
	if execution.SnapshotsSoftDeleted != 2 {
		t.Fatalf("soft deleted = %d, want 2", execution.SnapshotsSoftDeleted)
	}
	if execution.SnapshotsPermanentlyDeleted != 1 {
		t.Fatalf("permanently deleted = %d, want 1", execution.SnapshotsPermanentlyDeleted)
	}
	if execution.TriggerType != models.TriggerManual || execution.TriggeredBy != "admin" {
		t.Fatalf("trigger = %s/%s", execution.TriggerType, execution.TriggeredBy)
	}
	if execution.PolicyRetentionDays != 365 || execution.PolicyKeepMinimum != 1 {
		t.Fatalf("policy snapshot = %+v", execution)
	}
	if execution.CompletedAt == nil || execution.DurationSeconds < 0 {
		t.Fatalf("completion fields not set: %+v", execution)
	}

	// Soft-deleted rows carry the back-reference and timestamp
	var soft models.ConfigSnapshot
	db.First(&soft, old1.ID)
	if !soft.IsDeleted || soft.DeletedAt == nil {
		t.Fatalf("old1 not soft-deleted: %+v", soft)
	}
	if soft.DeletedByRetentionID == nil || *soft.DeletedByRetentionID != execution.ID {
		t.Fatalf("old1 missing retention back-reference: %v", soft.DeletedByRetentionID)
	}
	// Content survives phase one
	if err := db.First(&models.ConfigSnapshot{}, old2.ID).Error; err != nil {
		t.Fatalf("old2 should still exist: %v", err)
	}
	// Phase two removed the expired row entirely
	if err := db.First(&models.ConfigSnapshot{}, expired.ID).Error; err != gorm.ErrRecordNotFound {
		t.Fatalf("expired snapshot should be gone, err = %v", err)
	}

	// Settings track the run
	var updated models.RetentionSettings
	db.First(&updated, settings.ID)
	if updated.LastRunAt == nil || !updated.LastRunSuccess {
		t.Fatalf("settings last run not updated: %+v", updated)
	}
}

func TestExecuteIsIdempotentWithinGrace(t *testing.T) {
	db := testDB(t)
	settings := retentionSettings(365, 0, 7, false)
	saveSettings(t, db, settings)
	device := seedRetentionDevice(t, db, "sw1")

	seedSnapshot(t, db, device.ID, 400, nil)

	first, err := NewRetentionEngine(db, settings).Execute(models.TriggerManual, "")
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if first.SnapshotsSoftDeleted != 1 {
		t.Fatalf("first run soft deleted = %d, want 1", first.SnapshotsSoftDeleted)
	}

	// Immediately running again finds nothing: the snapshot is already
	// soft-deleted and still inside the grace window.
	second, err := NewRetentionEngine(db, settings).Execute(models.TriggerManual, "")
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if second.SnapshotsSoftDeleted != 0 || second.SnapshotsPermanentlyDeleted != 0 {
		t.Fatalf("second run deleted %d/%d, want 0/0",
			second.SnapshotsSoftDeleted, second.SnapshotsPermanentlyDeleted)
	}
}

func TestRestoreProtectUnprotect(t *testing.T) {
	db := testDB(t)
	device := seedRetentionDevice(t, db, "sw1")

	snapshot := seedSnapshot(t, db, device.ID, 100, func(s *models.ConfigSnapshot) {
		s.IsDeleted = true
	})
	now := time.Now().UTC()
	db.Model(snapshot).UpdateColumn("deleted_at", now)

	if err := RestoreSnapshot(db, snapshot.ID); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	var restored models.ConfigSnapshot
	db.First(&restored, snapshot.ID)
	if restored.IsDeleted || restored.DeletedAt != nil || restored.DeletedByRetentionID != nil {
		t.Fatalf("restore incomplete: %+v", restored)
	}

	// Restoring a live snapshot fails
	if err := RestoreSnapshot(db, snapshot.ID); err == nil {
		t.Fatal("restoring a non-deleted snapshot should fail")
	}

	if err := ProtectSnapshot(db, snapshot.ID, "compliance baseline"); err != nil {
		t.Fatalf("ProtectSnapshot: %v", err)
	}
	db.First(&restored, snapshot.ID)
	if !restored.IsProtected || restored.ProtectedReason != "compliance baseline" {
		t.Fatalf("protection not applied: %+v", restored)
	}

	if err := UnprotectSnapshot(db, snapshot.ID); err != nil {
		t.Fatalf("UnprotectSnapshot: %v", err)
	}
	db.First(&restored, snapshot.ID)
	if restored.IsProtected || restored.ProtectedReason != "" {
		t.Fatalf("protection not removed: %+v", restored)
	}

	if err := ProtectSnapshot(db, 99999, ""); err == nil {
		t.Fatal("protecting a missing snapshot should fail")
	}
}

func TestRetentionAcrossDevices(t *testing.T) {
	db := testDB(t)
	settings := retentionSettings(365, 1, 7, false)
	saveSettings(t, db, settings)

	// Each device's minimum is applied independently
	for d := 1; d <= 3; d++ {
		device := seedRetentionDevice(t, db, fmt.Sprintf("sw%d", d))
		for i := 0; i < 3; i++ {
			seedSnapshot(t, db, device.ID, 500-i*10, nil)
		}
	}

	preview, err := NewRetentionEngine(db, settings).Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	// 3 devices * (3 candidates - 1 minimum) = 6 deletions
	if len(preview.SnapshotsToSoftDelete) != 6 {
		t.Fatalf("plan = %d deletions, want 6", len(preview.SnapshotsToSoftDelete))
	}
	if preview.MinimumKept != 3 {
		t.Fatalf("minimum kept = %d, want 3", preview.MinimumKept)
	}
	if preview.DevicesAffected != 3 {
		t.Fatalf("devices affected = %d, want 3", preview.DevicesAffected)
	}
}
