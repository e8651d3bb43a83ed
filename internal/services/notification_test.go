package services

import (
	"context"
	"strings"
	"testing"

	"github.com/netvault/backend/internal/driver"
	"github.com/netvault/backend/internal/models"
)

func TestBuildReportIsFullyResolved(t *testing.T) {
	db := testDB(t)
	tracker := testRedisTracker(t)

	group := models.DeviceGroup{Name: "core"}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	devices := []models.Device{
		addDevice(t, db, "sw1", &group.ID),
		addDevice(t, db, "sw2", nil),
	}
	job := addJob(t, db, "nightly", 2, devices)

	runner := runnerWithResults(db, tracker, map[string]fakeDriver{
		"sw2": {result: failureResult(driver.FailureTimeout, "dial timed out")},
	})
	execution, err := runner.RunJob(context.Background(), job.ID, "admin")
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	report := runner.buildReport(&job, execution)

	if report.Job.Name != "nightly" || report.Execution.ID != execution.ID {
		t.Fatalf("report identity = %s/%d", report.Job.Name, report.Execution.ID)
	}
	if report.Execution.SuccessfulDevices != 1 || report.Execution.FailedDevices != 1 {
		t.Fatalf("report counters = %d/%d, want 1/1",
			report.Execution.SuccessfulDevices, report.Execution.FailedDevices)
	}
	if len(report.Snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(report.Snapshots))
	}
	for _, snapshot := range report.Snapshots {
		if snapshot.Device == nil {
			t.Fatalf("snapshot %d has unresolved device", snapshot.ID)
		}
		if snapshot.Device.Name == "sw1" && (snapshot.Device.Group == nil || snapshot.Device.Group.Name != "core") {
			t.Fatalf("sw1 group not resolved: %+v", snapshot.Device.Group)
		}
	}
}

func TestDeviceReportsFromResolvedSnapshots(t *testing.T) {
	m := &NotificationManager{}

	group := &models.DeviceGroup{Name: "edge"}
	snapshots := []models.ConfigSnapshot{
		{
			Status:     models.BackupStatusSuccess,
			HasChanged: true,
			ConfigSize: 2048,
			Device:     &models.Device{Name: "sw1", Hostname: "sw1.example.net", Vendor: "cisco", Group: group},
		},
		{
			Status:       models.BackupStatusAuthError,
			ErrorMessage: "authentication failed",
			Device:       &models.Device{Name: "sw2", Hostname: "sw2.example.net", Vendor: "arista"},
		},
	}

	reports := m.deviceReports(snapshots)
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if reports[0].Name != "sw1" || reports[0].Group != "edge" || !reports[0].HasChanged {
		t.Fatalf("report 0 = %+v", reports[0])
	}
	if reports[0].SizeDisplay != "2.0 KB" {
		t.Fatalf("size display = %s, want 2.0 KB", reports[0].SizeDisplay)
	}
	if reports[1].Status != models.BackupStatusAuthError || reports[1].ErrorMessage != "authentication failed" {
		t.Fatalf("report 1 = %+v", reports[1])
	}
}

func TestPlainReportContents(t *testing.T) {
	m := &NotificationManager{}

	job := &models.BackupJob{Name: "nightly"}
	execution := &models.JobExecution{
		Status:            models.ExecStatusPartial,
		TotalDevices:      2,
		SuccessfulDevices: 1,
		FailedDevices:     1,
		TriggeredBy:       "admin",
	}
	devices := []deviceReport{
		{Name: "sw1", Hostname: "sw1.example.net", Status: models.BackupStatusSuccess, HasChanged: true},
		{Name: "sw2", Hostname: "sw2.example.net", Status: models.BackupStatusTimeout, ErrorMessage: "dial timed out"},
	}

	plain := m.buildPlainReport(job, execution, devices, false)

	for _, want := range []string{
		"Backup Job Report: nightly",
		"Status: PARTIAL",
		"Triggered By: admin",
		"Successful: 1",
		"Failed: 1",
		"sw1",
		"[changed]",
		"error: dial timed out",
	} {
		if !strings.Contains(plain, want) {
			t.Fatalf("report missing %q:\n%s", want, plain)
		}
	}

	alert := m.buildPlainReport(job, execution, devices[1:], true)
	if !strings.Contains(alert, "Backup Failure Alert: nightly") {
		t.Fatalf("alert missing title:\n%s", alert)
	}
	if strings.Contains(alert, "sw1") {
		t.Fatalf("failures-only alert should not list successful devices:\n%s", alert)
	}
}

func TestSendJobReportNoRecipients(t *testing.T) {
	m := &NotificationManager{}

	// No recipients configured: the report is skipped before any delivery
	// attempt, using only the resolved data it was handed.
	m.SendJobReport(JobReport{
		Job:       models.BackupJob{Name: "nightly", EmailOnCompletion: true},
		Execution: models.JobExecution{Status: models.ExecStatusCompleted},
	})
}
