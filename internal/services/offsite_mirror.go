package services

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"
	"gorm.io/gorm"

	"github.com/netvault/backend/internal/models"
)

// OffsiteMirror uploads the successful configs of an execution to an FTP
// server. Mirroring is configured through system preferences and is entirely
// best-effort: upload failures are logged, never propagated into the run.
type OffsiteMirror struct {
	db *gorm.DB
}

func NewOffsiteMirror(db *gorm.DB) *OffsiteMirror {
	return &OffsiteMirror{db: db}
}

type mirrorConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	Path     string
}

func (m *OffsiteMirror) getConfig() mirrorConfig {
	settings := make(map[string]string)
	keys := []string{"ftp_mirror_enabled", "ftp_mirror_host", "ftp_mirror_port", "ftp_mirror_username", "ftp_mirror_password", "ftp_mirror_path"}

	for _, key := range keys {
		var setting models.SystemPreference
		if err := m.db.Where("key = ?", key).First(&setting).Error; err == nil {
			settings[key] = setting.Value
		}
	}

	port := 21
	if p, err := strconv.Atoi(settings["ftp_mirror_port"]); err == nil && p > 0 {
		port = p
	}

	return mirrorConfig{
		Enabled:  settings["ftp_mirror_enabled"] == "true",
		Host:     settings["ftp_mirror_host"],
		Port:     port,
		Username: settings["ftp_mirror_username"],
		Password: settings["ftp_mirror_password"],
		Path:     settings["ftp_mirror_path"],
	}
}

// UploadExecution mirrors every successful snapshot of an execution, one
// file per device, under a per-execution directory.
func (m *OffsiteMirror) UploadExecution(executionID uint) {
	config := m.getConfig()
	if !config.Enabled || config.Host == "" {
		return
	}

	var snapshots []models.ConfigSnapshot
	err := m.db.Preload("Device").
		Where("job_execution_id = ? AND status = ?", executionID, models.BackupStatusSuccess).
		Find(&snapshots).Error
	if err != nil {
		log.Printf("OffsiteMirror: failed to load snapshots for execution %d: %v", executionID, err)
		return
	}
	if len(snapshots) == 0 {
		return
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		log.Printf("OffsiteMirror: FTP connection failed: %v", err)
		return
	}
	defer conn.Quit()

	if err := conn.Login(config.Username, config.Password); err != nil {
		log.Printf("OffsiteMirror: FTP login failed: %v", err)
		return
	}

	if config.Path != "" && config.Path != "/" {
		if err := conn.ChangeDir(config.Path); err != nil {
			conn.MakeDir(config.Path)
			if err := conn.ChangeDir(config.Path); err != nil {
				log.Printf("OffsiteMirror: FTP directory change failed: %v", err)
				return
			}
		}
	}

	// Unique directory per run so re-uploads never clobber earlier archives
	dirName := fmt.Sprintf("execution-%d-%s-%s",
		executionID, time.Now().UTC().Format("20060102-150405"), uuid.New().String()[:8])
	conn.MakeDir(dirName)
	if err := conn.ChangeDir(dirName); err != nil {
		log.Printf("OffsiteMirror: failed to enter directory %s: %v", dirName, err)
		return
	}

	uploaded := 0
	for _, snapshot := range snapshots {
		name := fmt.Sprintf("device-%d", snapshot.DeviceID)
		if snapshot.Device != nil {
			name = sanitizeFilename(snapshot.Device.Name)
		}
		filename := fmt.Sprintf("%s-%d.cfg", name, snapshot.ID)

		if err := conn.Stor(filename, strings.NewReader(snapshot.ConfigContent)); err != nil {
			log.Printf("OffsiteMirror: upload of %s failed: %v", filename, err)
			continue
		}
		uploaded++
	}

	log.Printf("OffsiteMirror: uploaded %d/%d configs for execution %d to %s/%s",
		uploaded, len(snapshots), executionID, config.Host, dirName)
}

// TestConnection probes the mirror server currently configured in system
// preferences.
func (m *OffsiteMirror) TestConnection() error {
	config := m.getConfig()
	if config.Host == "" {
		return fmt.Errorf("no mirror host configured")
	}
	return TestFTPConnection(config.Host, config.Port, config.Username, config.Password, config.Path)
}

// TestFTPConnection tests FTP connectivity with given credentials.
func TestFTPConnection(host string, port int, username, password, path string) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("connection failed: %v", err)
	}
	defer conn.Quit()

	if err := conn.Login(username, password); err != nil {
		return fmt.Errorf("login failed: %v", err)
	}

	if path != "" && path != "/" {
		if err := conn.ChangeDir(path); err != nil {
			return fmt.Errorf("directory not accessible: %v", err)
		}
	}

	return nil
}

func sanitizeFilename(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")
	return r.Replace(name)
}
