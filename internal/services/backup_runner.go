package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/netvault/backend/internal/database"
	"github.com/netvault/backend/internal/driver"
	"github.com/netvault/backend/internal/models"
	"github.com/netvault/backend/internal/progress"
)

// DriverFactory builds a capture driver for one device. Swappable in tests.
type DriverFactory func(device models.Device, commands driver.CommandSet) driver.Driver

func sshDriverFactory(device models.Device, commands driver.CommandSet) driver.Driver {
	return driver.NewSSHDriver(device.Hostname, device.Port, device.Username, device.Password, device.EnableSecret, commands)
}

// BackupRunner executes backup jobs: it fans a job's device set out over a
// bounded worker pool, records one snapshot per device and finalizes the
// execution record once every device has been attempted.
type BackupRunner struct {
	db             *gorm.DB
	tracker        *progress.Tracker
	maxConcurrency int

	// Optional post-run hooks; nil disables them.
	notifier *NotificationManager
	mirror   *OffsiteMirror

	driverFor DriverFactory
	errLogMu  sync.Mutex
}

// NewBackupRunner creates a runner. maxConcurrency caps the per-job
// concurrency setting.
func NewBackupRunner(db *gorm.DB, tracker *progress.Tracker, maxConcurrency int) *BackupRunner {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &BackupRunner{
		db:             db,
		tracker:        tracker,
		maxConcurrency: maxConcurrency,
		driverFor:      sshDriverFactory,
	}
}

// SetNotifier enables email reports after each job run.
func (r *BackupRunner) SetNotifier(n *NotificationManager) { r.notifier = n }

// SetMirror enables FTP upload of captured configs after each job run.
func (r *BackupRunner) SetMirror(m *OffsiteMirror) { r.mirror = m }

// RunJob executes one backup job run and returns the finalized execution
// record. Setup failures (job missing, device resolution) return an error
// without leaving a dangling running execution.
func (r *BackupRunner) RunJob(ctx context.Context, jobID uint, triggeredBy string) (*models.JobExecution, error) {
	var job models.BackupJob
	if err := r.db.Preload("Devices").Preload("Groups").First(&job, jobID).Error; err != nil {
		return nil, fmt.Errorf("backup job %d not found: %w", jobID, err)
	}

	devices, err := r.resolveDevices(&job)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve devices for job %q: %w", job.Name, err)
	}

	concurrency := job.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > r.maxConcurrency {
		concurrency = r.maxConcurrency
	}

	execution := models.JobExecution{
		JobID:        job.ID,
		Status:       models.ExecStatusRunning,
		TotalDevices: len(devices),
		TriggeredBy:  triggeredBy,
	}
	if err := r.db.Create(&execution).Error; err != nil {
		return nil, fmt.Errorf("failed to create execution for job %q: %w", job.Name, err)
	}

	now := time.Now().UTC()
	r.db.Model(&job).UpdateColumns(map[string]interface{}{
		"last_run_at":     now,
		"last_run_status": models.ExecStatusRunning,
	})

	log.Printf("BackupRunner: job '%s' started, %d devices, concurrency %d (execution %d)",
		job.Name, len(devices), concurrency, execution.ID)

	r.tracker.Init(ctx, execution.ID, len(devices), concurrency)

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	for _, device := range devices {
		wg.Add(1)
		go func(dev models.Device) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				r.recordFailure(ctx, execution.ID, dev, models.BackupStatusFailed,
					fmt.Sprintf("backup canceled: %v", err), 0)
				return
			}
			defer sem.Release(1)
			r.backupDevice(ctx, execution.ID, dev)
		}(device)
	}
	wg.Wait()

	// Re-read the counters the workers advanced, then derive the terminal
	// status from them.
	var final models.JobExecution
	if err := r.db.First(&final, execution.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to reload execution %d: %w", execution.ID, err)
	}
	completedAt := time.Now().UTC()
	final.CompletedAt = &completedAt
	final.Status = final.DeriveStatus()
	if err := r.db.Save(&final).Error; err != nil {
		return nil, fmt.Errorf("failed to finalize execution %d: %w", execution.ID, err)
	}

	r.tracker.MarkJobCompleted(ctx, final.ID, final.Status)

	r.db.Model(&job).UpdateColumn("last_run_status", final.Status)

	log.Printf("BackupRunner: job '%s' %s: %d/%d successful, %d changed",
		job.Name, final.Status, final.SuccessfulDevices, final.TotalDevices, final.ChangedDevices)

	if r.notifier != nil {
		go r.notifier.SendJobReport(r.buildReport(&job, &final))
	}
	if r.mirror != nil {
		go r.mirror.UploadExecution(final.ID)
	}

	return &final, nil
}

// buildReport resolves everything the notifier needs while the run's data is
// at hand, so report delivery never goes back to the database.
func (r *BackupRunner) buildReport(job *models.BackupJob, execution *models.JobExecution) JobReport {
	report := JobReport{Job: *job, Execution: *execution}
	err := r.db.Preload("Device").Preload("Device.Group").
		Where("job_execution_id = ?", execution.ID).
		Order("created_at").
		Find(&report.Snapshots).Error
	if err != nil {
		log.Printf("BackupRunner: failed to resolve snapshots for execution %d report: %v", execution.ID, err)
	}
	return report
}

// BackupDevice runs an ad-hoc backup of a single device, outside any job.
func (r *BackupRunner) BackupDevice(ctx context.Context, deviceID uint) (*models.ConfigSnapshot, error) {
	var device models.Device
	if err := r.db.First(&device, deviceID).Error; err != nil {
		return nil, fmt.Errorf("device %d not found: %w", deviceID, err)
	}

	result := r.capture(device)
	snapshot, err := r.createSnapshot(nil, device, result)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// resolveDevices collects the active devices targeted by a job, directly and
// through groups, deduplicated by ID.
func (r *BackupRunner) resolveDevices(job *models.BackupJob) ([]models.Device, error) {
	seen := make(map[uint]bool)
	var devices []models.Device

	for _, device := range job.Devices {
		if device.IsActive && !seen[device.ID] {
			seen[device.ID] = true
			devices = append(devices, device)
		}
	}

	if len(job.Groups) > 0 {
		groupIDs := make([]uint, 0, len(job.Groups))
		for _, group := range job.Groups {
			groupIDs = append(groupIDs, group.ID)
		}
		var groupDevices []models.Device
		if err := r.db.Where("group_id IN ? AND is_active = ?", groupIDs, true).Find(&groupDevices).Error; err != nil {
			return nil, err
		}
		for _, device := range groupDevices {
			if !seen[device.ID] {
				seen[device.ID] = true
				devices = append(devices, device)
			}
		}
	}

	return devices, nil
}

// backupDevice is the per-worker unit of work. It never panics out into the
// pool: any failure is converted into a failed snapshot and counted.
func (r *BackupRunner) backupDevice(ctx context.Context, executionID uint, device models.Device) {
	r.tracker.MarkDeviceActive(ctx, executionID, device.ID, device.Name)

	result := r.capture(device)

	snapshot, err := r.createSnapshot(&executionID, device, result)
	if err != nil {
		log.Printf("BackupRunner: failed to store snapshot for %s: %v", device.Name, err)
		r.recordFailure(ctx, executionID, device, models.BackupStatusFailed,
			fmt.Sprintf("failed to store snapshot: %v", err), result.Duration)
		return
	}

	if snapshot.IsFailure() {
		r.incrementFailed(executionID, device, snapshot.ErrorMessage)
		r.tracker.MarkDeviceCompleted(ctx, executionID, device.ID, device.Name,
			false, false, result.Duration, snapshot.ErrorMessage)
		return
	}

	updates := map[string]interface{}{
		"successful_devices": gorm.Expr("successful_devices + ?", 1),
	}
	if snapshot.HasChanged {
		updates["changed_devices"] = gorm.Expr("changed_devices + ?", 1)
	}
	if snapshot.IsFirstBackup {
		updates["new_devices"] = gorm.Expr("new_devices + ?", 1)
	}
	r.db.Model(&models.JobExecution{}).Where("id = ?", executionID).UpdateColumns(updates)

	r.tracker.MarkDeviceCompleted(ctx, executionID, device.ID, device.Name,
		true, snapshot.HasChanged, result.Duration, "")
}

// capture runs the driver for a device, translating panics into a typed
// failure so one bad device never takes down the pool.
func (r *BackupRunner) capture(device models.Device) (result driver.CaptureResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("BackupRunner: panic backing up %s: %v", device.Name, rec)
			result = driver.CaptureResult{
				Success:      false,
				ErrorKind:    driver.FailureOther,
				ErrorMessage: fmt.Sprintf("internal error: %v", rec),
				Duration:     time.Since(start).Seconds(),
			}
		}
	}()

	commands := r.commandsFor(device)
	return r.driverFor(device, commands).Capture()
}

// commandsFor resolves the command set: vendor-level overrides from the
// database when defined, built-in defaults otherwise. Vendor rows are cached
// in Redis since every device in a run looks its vendor up.
func (r *BackupRunner) commandsFor(device models.Device) driver.CommandSet {
	commands := driver.DefaultCommands(device.Vendor)

	var vendor models.Vendor
	cacheKey := database.CacheKeyVendor + device.Vendor
	if err := database.CacheGet(cacheKey, &vendor); err != nil {
		if err := r.db.Where("name = ?", device.Vendor).First(&vendor).Error; err != nil {
			return commands
		}
		database.CacheSet(cacheKey, &vendor, database.CacheTTLVendor)
	}

	if pre := vendor.GetPreBackupCommandsList(); len(pre) > 0 {
		commands.Pre = pre
	}
	if backup := vendor.GetBackupCommandsList(); len(backup) > 0 {
		commands.Backup = backup
	}
	if post := vendor.GetPostBackupCommandsList(); len(post) > 0 {
		commands.Post = post
	}
	if vendor.EnableCommand != "" {
		commands.EnableCommand = vendor.EnableCommand
	}
	return commands
}

// createSnapshot stores the capture outcome and updates the device's last
// backup fields. executionID is nil for ad-hoc backups.
func (r *BackupRunner) createSnapshot(executionID *uint, device models.Device, result driver.CaptureResult) (*models.ConfigSnapshot, error) {
	snapshot := models.ConfigSnapshot{
		DeviceID:       device.ID,
		JobExecutionID: executionID,
		BackupDuration: result.Duration,
	}

	if result.Success {
		snapshot.Status = models.BackupStatusSuccess
		snapshot.ConfigContent = result.Config
		if len(result.VendorInfo) > 0 {
			if info, err := json.Marshal(result.VendorInfo); err == nil {
				snapshot.VendorInfo = info
			}
		}
	} else {
		snapshot.Status = statusForFailure(result.ErrorKind)
		snapshot.ErrorMessage = result.ErrorMessage
	}

	if err := r.db.Create(&snapshot).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r.db.Model(&models.Device{}).Where("id = ?", device.ID).UpdateColumns(map[string]interface{}{
		"last_backup_at":     now,
		"last_backup_status": snapshot.Status,
	})

	return &snapshot, nil
}

// recordFailure stores a failed snapshot and counts it, for failures that
// happen outside the driver (canceled acquisition, storage errors).
func (r *BackupRunner) recordFailure(ctx context.Context, executionID uint, device models.Device, status, message string, duration float64) {
	snapshot := models.ConfigSnapshot{
		DeviceID:       device.ID,
		JobExecutionID: &executionID,
		Status:         status,
		ErrorMessage:   message,
		BackupDuration: duration,
	}
	if err := r.db.Create(&snapshot).Error; err != nil {
		log.Printf("BackupRunner: failed to record failure for %s: %v", device.Name, err)
	}

	r.incrementFailed(executionID, device, message)
	r.tracker.MarkDeviceCompleted(ctx, executionID, device.ID, device.Name, false, false, duration, message)
}

// incrementFailed advances the failed counter and appends one line to the
// execution's error log. The append runs as a single SQL expression under a
// mutex so concurrent workers never lose lines.
func (r *BackupRunner) incrementFailed(executionID uint, device models.Device, message string) {
	r.db.Model(&models.JobExecution{}).Where("id = ?", executionID).
		UpdateColumn("failed_devices", gorm.Expr("failed_devices + ?", 1))

	line := fmt.Sprintf("%s: %s", device.Name, message)
	r.errLogMu.Lock()
	defer r.errLogMu.Unlock()
	r.db.Exec(
		`UPDATE job_executions SET error_log = CASE WHEN error_log = '' THEN ? ELSE error_log || ? END WHERE id = ?`,
		line, "\n"+line, executionID,
	)
}

// statusForFailure maps a driver failure kind to a snapshot status.
func statusForFailure(kind driver.FailureKind) string {
	switch kind {
	case driver.FailureAuth:
		return models.BackupStatusAuthError
	case driver.FailureTimeout:
		return models.BackupStatusTimeout
	case driver.FailureConnection:
		return models.BackupStatusConnectionError
	case driver.FailureEnable:
		return models.BackupStatusEnableFailed
	default:
		return models.BackupStatusFailed
	}
}
