package handlers

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/netvault/backend/internal/models"
	"github.com/netvault/backend/internal/services"
	"github.com/netvault/backend/internal/snapshot"
)

// SnapshotHandler exposes configuration snapshots, diffs and the
// protect/restore actions.
type SnapshotHandler struct {
	db *gorm.DB
}

func NewSnapshotHandler(db *gorm.DB) *SnapshotHandler {
	return &SnapshotHandler{db: db}
}

// List returns snapshots with optional filters. Soft-deleted snapshots are
// hidden unless include_deleted is set.
func (h *SnapshotHandler) List(c *fiber.Ctx) error {
	query := h.db.Model(&models.ConfigSnapshot{}).Preload("Device")

	if c.Query("include_deleted") != "true" {
		query = query.Where("is_deleted = ?", false)
	}
	if deviceID := c.Query("device_id"); deviceID != "" {
		query = query.Where("device_id = ?", deviceID)
	}
	if status := c.Query("status"); status != "" {
		switch {
		case status == "failure":
			// Umbrella filter matching any failed capture
			query = query.Where("status IN ?", models.SnapshotFailureStatuses())
		case isSnapshotStatus(status):
			query = query.Where("status = ?", status)
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Unknown status filter: " + status})
		}
	}
	if changed := c.Query("has_changed"); changed != "" {
		query = query.Where("has_changed = ?", changed == "true")
	}
	if protected := c.Query("is_protected"); protected != "" {
		query = query.Where("is_protected = ?", protected == "true")
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

	var snapshots []models.ConfigSnapshot
	if err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&snapshots).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch snapshots"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    snapshots,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

func isSnapshotStatus(status string) bool {
	if status == models.BackupStatusSuccess {
		return true
	}
	for _, s := range models.SnapshotFailureStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// Get returns a single snapshot's metadata
func (h *SnapshotHandler) Get(c *fiber.Ctx) error {
	snap, fail := h.load(c)
	if fail != nil {
		return fail(c)
	}
	return c.JSON(fiber.Map{"success": true, "data": snap})
}

// GetContent returns the raw configuration text of a snapshot
func (h *SnapshotHandler) GetContent(c *fiber.Ctx) error {
	snap, fail := h.load(c)
	if fail != nil {
		return fail(c)
	}
	if snap.IsFailure() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "message": "Snapshot has no content (failed capture)"})
	}
	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(snap.ConfigContent)
}

// Diff returns the unified diff against the snapshot's previous snapshot
func (h *SnapshotHandler) Diff(c *fiber.Ctx) error {
	snap, fail := h.load(c)
	if fail != nil {
		return fail(c)
	}

	previous, resp := h.previousOf(c, snap)
	if resp != nil {
		return resp
	}

	prevLabel := fmt.Sprintf("Previous (%s)", previous.CreatedAt.Format("02-Jan-2006 15:04"))
	currLabel := fmt.Sprintf("Current (%s)", snap.CreatedAt.Format("02-Jan-2006 15:04"))
	text, stats, err := snapshot.UnifiedDiff(previous.ConfigContent, snap.ConfigContent, prevLabel, currLabel)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to compute diff"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"diff":  text,
			"stats": stats,
		},
	})
}

// SideBySide returns the aligned two-column diff against the previous snapshot
func (h *SnapshotHandler) SideBySide(c *fiber.Ctx) error {
	snap, fail := h.load(c)
	if fail != nil {
		return fail(c)
	}

	previous, resp := h.previousOf(c, snap)
	if resp != nil {
		return resp
	}

	rows := snapshot.SideBySide(previous.ConfigContent, snap.ConfigContent)
	return c.JSON(fiber.Map{"success": true, "data": rows})
}

// ProtectRequest carries the optional protection reason
type ProtectRequest struct {
	Reason string `json:"reason"`
}

// Protect exempts a snapshot from retention
func (h *SnapshotHandler) Protect(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid snapshot ID"})
	}

	var req ProtectRequest
	c.BodyParser(&req)

	if err := services.ProtectSnapshot(h.db, uint(id), req.Reason); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "message": "Snapshot protected"})
}

// Unprotect removes retention protection
func (h *SnapshotHandler) Unprotect(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid snapshot ID"})
	}

	if err := services.UnprotectSnapshot(h.db, uint(id)); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "message": "Snapshot unprotected"})
}

// Restore clears the soft-delete flag on a snapshot
func (h *SnapshotHandler) Restore(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid snapshot ID"})
	}

	if err := services.RestoreSnapshot(h.db, uint(id)); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "message": "Snapshot restored"})
}

// load fetches the snapshot named by the :id param. On failure it returns a
// handler that writes the error response.
func (h *SnapshotHandler) load(c *fiber.Ctx) (*models.ConfigSnapshot, func(*fiber.Ctx) error) {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return nil, func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid snapshot ID"})
		}
	}

	var snap models.ConfigSnapshot
	if err := h.db.Preload("Device").First(&snap, id).Error; err != nil {
		return nil, func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Snapshot not found"})
		}
	}
	return &snap, nil
}

// previousOf resolves the snapshot the diff compares against. The reference
// is frozen at creation, so this follows previous_snapshot_id rather than
// re-querying the chain.
func (h *SnapshotHandler) previousOf(c *fiber.Ctx, snap *models.ConfigSnapshot) (*models.ConfigSnapshot, error) {
	if snap.PreviousSnapshotID == nil {
		return nil, c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "message": "Snapshot has no previous snapshot to compare against"})
	}

	var previous models.ConfigSnapshot
	if err := h.db.First(&previous, *snap.PreviousSnapshotID).Error; err != nil {
		return nil, c.Status(fiber.StatusGone).JSON(fiber.Map{"success": false, "message": "Previous snapshot has been permanently deleted"})
	}
	return &previous, nil
}
