package services

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/netvault/backend/internal/models"
)

// NotificationManager turns finished job executions into email reports. All
// failures are logged and swallowed; a broken mail server never affects a
// backup run.
type NotificationManager struct {
	email *EmailService
}

func NewNotificationManager(db *gorm.DB) *NotificationManager {
	return &NotificationManager{email: NewEmailService(db)}
}

// JobReport is the resolved input for a job report. The coordinator fills it
// while the run's data is at hand; the notifier never queries the database.
type JobReport struct {
	Job       models.BackupJob
	Execution models.JobExecution
	Snapshots []models.ConfigSnapshot // Device and Device.Group resolved
}

// deviceReport is one per-device row of a job report, fully resolved from
// the snapshot and device records.
type deviceReport struct {
	Name          string
	Hostname      string
	Vendor        string
	Group         string
	Status        string
	HasChanged    bool
	IsFirstBackup bool
	ErrorMessage  string
	SizeDisplay   string
	Duration      string
}

// SendJobReport sends the completion report for one execution to the job's
// configured recipients, plus a separate failures-only alert when any
// device failed.
func (m *NotificationManager) SendJobReport(report JobReport) {
	job := &report.Job
	execution := &report.Execution

	recipients := job.GetEmailRecipientsList()
	if len(recipients) == 0 {
		log.Printf("Notification: no recipients configured for job '%s', skipping report", job.Name)
		return
	}

	devices := m.deviceReports(report.Snapshots)

	if job.EmailOnCompletion {
		subject := fmt.Sprintf("[NetVault] Backup Report: %s - %s", job.Name, strings.ToUpper(execution.Status))
		plain := m.buildPlainReport(job, execution, devices, false)
		html := m.buildHTMLReport(job, execution, devices, false)
		m.deliver(recipients, subject, plain, html, job.Name)
	}

	if job.EmailOnFailure && execution.FailedDevices > 0 {
		var failed []deviceReport
		for _, d := range devices {
			if d.Status != models.BackupStatusSuccess {
				failed = append(failed, d)
			}
		}
		plural := ""
		if execution.FailedDevices != 1 {
			plural = "s"
		}
		subject := fmt.Sprintf("[NetVault] ALERT: %d Backup Failure%s - %s", execution.FailedDevices, plural, job.Name)
		plain := m.buildPlainReport(job, execution, failed, true)
		html := m.buildHTMLReport(job, execution, failed, true)
		m.deliver(recipients, subject, plain, html, job.Name)
	}
}

func (m *NotificationManager) deliver(recipients []string, subject, plain, html, jobName string) {
	for _, to := range recipients {
		body, isHTML := html, true
		if body == "" {
			body, isHTML = plain, false
		}
		if err := m.email.SendEmail(to, subject, body, isHTML); err != nil {
			log.Printf("Notification: failed to send report for job '%s' to %s: %v", jobName, to, err)
		}
	}
}

func (m *NotificationManager) deviceReports(snapshots []models.ConfigSnapshot) []deviceReport {
	reports := make([]deviceReport, 0, len(snapshots))
	for _, snapshot := range snapshots {
		report := deviceReport{
			Status:        snapshot.Status,
			HasChanged:    snapshot.HasChanged,
			IsFirstBackup: snapshot.IsFirstBackup,
			ErrorMessage:  snapshot.ErrorMessage,
			SizeDisplay:   formatBytes(snapshot.ConfigSize),
			Duration:      formatSeconds(snapshot.BackupDuration),
		}
		if snapshot.Device != nil {
			report.Name = snapshot.Device.Name
			report.Hostname = snapshot.Device.Hostname
			report.Vendor = snapshot.Device.Vendor
			if snapshot.Device.Group != nil {
				report.Group = snapshot.Device.Group.Name
			}
		}
		reports = append(reports, report)
	}
	return reports
}

func (m *NotificationManager) buildPlainReport(job *models.BackupJob, execution *models.JobExecution, devices []deviceReport, failuresOnly bool) string {
	var b strings.Builder

	title := "Backup Job Report"
	if failuresOnly {
		title = "Backup Failure Alert"
	}
	fmt.Fprintf(&b, "%s: %s\n%s\n\n", title, job.Name, strings.Repeat("=", 50))
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(execution.Status))
	if execution.TriggeredBy != "" {
		fmt.Fprintf(&b, "Triggered By: %s\n", execution.TriggeredBy)
	}
	fmt.Fprintf(&b, "Started: %s\n", execution.StartedAt.Format("02-Jan-2006 15:04:05"))
	if execution.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", execution.CompletedAt.Format("02-Jan-2006 15:04:05"))
	}
	fmt.Fprintf(&b, "Duration: %s\n\n", formatSeconds(execution.Duration().Seconds()))

	fmt.Fprintf(&b, "RESULTS\n-------\n")
	fmt.Fprintf(&b, "Total Devices: %d\n", execution.TotalDevices)
	fmt.Fprintf(&b, "Successful: %d\n", execution.SuccessfulDevices)
	fmt.Fprintf(&b, "Failed: %d\n", execution.FailedDevices)
	fmt.Fprintf(&b, "Config Changed: %d\n", execution.ChangedDevices)
	fmt.Fprintf(&b, "New Devices: %d\n", execution.NewDevices)
	fmt.Fprintf(&b, "Success Rate: %.1f%%\n\n", execution.SuccessRate())

	fmt.Fprintf(&b, "DEVICE DETAILS\n--------------\n")
	for _, d := range devices {
		marker := "OK "
		if d.Status != models.BackupStatusSuccess {
			marker = "ERR"
		}
		changed := ""
		if d.HasChanged {
			changed = " [changed]"
		}
		fmt.Fprintf(&b, "%s %-30s %-15s %s%s\n", marker, d.Name, d.Hostname, d.Status, changed)
		if d.ErrorMessage != "" {
			fmt.Fprintf(&b, "    error: %s\n", d.ErrorMessage)
		}
	}

	fmt.Fprintf(&b, "\n---\nNetVault Device Backup | %s\n", time.Now().Format("02-Jan-2006 15:04:05"))
	return b.String()
}

func (m *NotificationManager) buildHTMLReport(job *models.BackupJob, execution *models.JobExecution, devices []deviceReport, failuresOnly bool) string {
	var rows strings.Builder
	for _, d := range devices {
		color := "#059669"
		if d.Status != models.BackupStatusSuccess {
			color = "#dc2626"
		}
		changed := ""
		if d.HasChanged {
			changed = "changed"
		} else if d.IsFirstBackup {
			changed = "first backup"
		}
		fmt.Fprintf(&rows, `<tr>
<td>%s</td><td>%s</td><td>%s</td><td>%s</td>
<td style="color:%s">%s</td><td>%s</td><td>%s</td><td>%s</td>
</tr>`,
			htmlEscape(d.Name), htmlEscape(d.Hostname), htmlEscape(d.Vendor), htmlEscape(d.Group),
			color, d.Status, changed, d.SizeDisplay, htmlEscape(d.ErrorMessage))
	}

	title := "Backup Report"
	if failuresOnly {
		title = "Backup Failure Alert"
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<style>
 body { font-family: Arial, sans-serif; color: #333; }
 .container { max-width: 800px; margin: 0 auto; padding: 20px; }
 .header { background: #1e3a5f; color: white; padding: 16px; border-radius: 8px 8px 0 0; }
 .content { background: #f9fafb; padding: 16px; border: 1px solid #e5e7eb; }
 table { border-collapse: collapse; width: 100%%; }
 th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #e5e7eb; font-size: 13px; }
</style>
</head>
<body>
<div class="container">
 <div class="header"><h2>NetVault %s: %s</h2></div>
 <div class="content">
  <p>Status: <strong>%s</strong> &middot; %d/%d successful &middot; %d changed &middot; %d failed</p>
  <table>
   <tr><th>Device</th><th>Address</th><th>Vendor</th><th>Group</th><th>Status</th><th>Change</th><th>Size</th><th>Error</th></tr>
   %s
  </table>
 </div>
</div>
</body>
</html>`,
		title, htmlEscape(job.Name),
		strings.ToUpper(execution.Status),
		execution.SuccessfulDevices, execution.TotalDevices,
		execution.ChangedDevices, execution.FailedDevices,
		rows.String())
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

func formatBytes(size int) string {
	switch {
	case size >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	case size > 0:
		return fmt.Sprintf("%d B", size)
	default:
		return "-"
	}
}

func formatSeconds(seconds float64) string {
	total := int(seconds)
	switch {
	case total >= 3600:
		return fmt.Sprintf("%dh %dm %ds", total/3600, (total%3600)/60, total%60)
	case total >= 60:
		return fmt.Sprintf("%dm %ds", total/60, total%60)
	default:
		return fmt.Sprintf("%ds", total)
	}
}
