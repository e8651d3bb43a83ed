package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/netvault/backend/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// One connection keeps the in-memory database alive and serializes access
	sqlDB.SetMaxOpenConns(1)

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type listResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Data    []models.ConfigSnapshot `json:"data"`
	Total   int64                   `json:"total"`
}

func decodeList(t *testing.T, resp *http.Response) listResponse {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	var out listResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("failed to decode response: %v\n%s", err, body)
	}
	return out
}

func TestSnapshotListStatusFilter(t *testing.T) {
	db := testDB(t)

	device := models.Device{Name: "sw1", Hostname: "sw1.example.net", Vendor: "cisco", IsActive: true}
	if err := db.Create(&device).Error; err != nil {
		t.Fatalf("failed to create device: %v", err)
	}
	seed := []models.ConfigSnapshot{
		{DeviceID: device.ID, Status: models.BackupStatusSuccess, ConfigContent: "hostname sw1\n"},
		{DeviceID: device.ID, Status: models.BackupStatusTimeout, ErrorMessage: "timed out"},
		{DeviceID: device.ID, Status: models.BackupStatusAuthError, ErrorMessage: "bad credentials"},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("failed to create snapshot: %v", err)
		}
	}

	app := fiber.New()
	app.Get("/snapshots", NewSnapshotHandler(db).List)

	// Umbrella filter matches every failed capture, whatever the kind
	resp, err := app.Test(httptest.NewRequest("GET", "/snapshots?status=failure", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	out := decodeList(t, resp)
	if !out.Success || out.Total != 2 {
		t.Fatalf("failure filter: success=%v total=%d, want 2", out.Success, out.Total)
	}
	for _, snap := range out.Data {
		if snap.Status == models.BackupStatusSuccess {
			t.Fatalf("failure filter returned a successful snapshot: %+v", snap)
		}
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/snapshots?status=success", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	out = decodeList(t, resp)
	if out.Total != 1 || len(out.Data) != 1 || out.Data[0].Status != models.BackupStatusSuccess {
		t.Fatalf("success filter: total=%d data=%+v", out.Total, out.Data)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/snapshots?status="+models.BackupStatusTimeout, nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	out = decodeList(t, resp)
	if out.Total != 1 || out.Data[0].Status != models.BackupStatusTimeout {
		t.Fatalf("timeout filter: total=%d data=%+v", out.Total, out.Data)
	}
}

func TestSnapshotListRejectsUnknownStatus(t *testing.T) {
	db := testDB(t)

	app := fiber.New()
	app.Get("/snapshots", NewSnapshotHandler(db).List)

	resp, err := app.Test(httptest.NewRequest("GET", "/snapshots?status=bogus", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	out := decodeList(t, resp)
	if out.Success {
		t.Fatal("unknown status filter must not succeed")
	}
}
