package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/netvault/backend/internal/driver"
	"github.com/netvault/backend/internal/models"
	"github.com/netvault/backend/internal/services"
)

// DeviceHandler exposes the device inventory (read-only) plus per-device
// backup actions.
type DeviceHandler struct {
	db     *gorm.DB
	runner *services.BackupRunner
}

func NewDeviceHandler(db *gorm.DB, runner *services.BackupRunner) *DeviceHandler {
	return &DeviceHandler{db: db, runner: runner}
}

// List returns devices with optional filters
func (h *DeviceHandler) List(c *fiber.Ctx) error {
	query := h.db.Model(&models.Device{}).Preload("Group")

	if groupID := c.Query("group_id"); groupID != "" {
		query = query.Where("group_id = ?", groupID)
	}
	if vendor := c.Query("vendor"); vendor != "" {
		query = query.Where("vendor = ?", vendor)
	}
	if active := c.Query("is_active"); active != "" {
		query = query.Where("is_active = ?", active == "true")
	}
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("name LIKE ? OR hostname LIKE ?", like, like)
	}

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var total int64
	query.Count(&total)

	var devices []models.Device
	if err := query.Order("name").Offset((page - 1) * limit).Limit(limit).Find(&devices).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch devices"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    devices,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// Get returns a single device
func (h *DeviceHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid device ID"})
	}

	var device models.Device
	if err := h.db.Preload("Group").First(&device, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Device not found"})
	}

	return c.JSON(fiber.Map{"success": true, "data": device})
}

// TestConnection checks reachability and SSH authentication for a device
func (h *DeviceHandler) TestConnection(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid device ID"})
	}

	var device models.Device
	if err := h.db.First(&device, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Device not found"})
	}

	d := driver.NewSSHDriver(device.Hostname, device.Port, device.Username, device.Password,
		device.EnableSecret, driver.DefaultCommands(device.Vendor))
	result := d.TestConnection()

	return c.JSON(fiber.Map{"success": true, "data": result})
}

// Backup runs an ad-hoc backup of one device and returns the snapshot
func (h *DeviceHandler) Backup(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid device ID"})
	}

	snapshot, err := h.runner.BackupDevice(c.UserContext(), uint(id))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "data": snapshot})
}
