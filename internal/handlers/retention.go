package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/netvault/backend/internal/database"
	"github.com/netvault/backend/internal/models"
	"github.com/netvault/backend/internal/services"
)

// RetentionHandler exposes the retention policy settings, preview and
// execution history.
type RetentionHandler struct {
	db *gorm.DB
}

func NewRetentionHandler(db *gorm.DB) *RetentionHandler {
	return &RetentionHandler{db: db}
}

// GetSettings returns the global retention policy
func (h *RetentionHandler) GetSettings(c *fiber.Ctx) error {
	var cached models.RetentionSettings
	if err := database.CacheGet(database.CacheKeyRetentionSettings, &cached); err == nil {
		return c.JSON(fiber.Map{"success": true, "data": cached})
	}

	settings, err := models.GetRetentionSettings(h.db)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to load retention settings"})
	}
	database.CacheSet(database.CacheKeyRetentionSettings, settings, database.CacheTTLSettings)
	return c.JSON(fiber.Map{"success": true, "data": settings})
}

// UpdateSettingsRequest carries the editable policy fields
type UpdateSettingsRequest struct {
	IsEnabled           *bool  `json:"is_enabled"`
	RetentionDays       *int   `json:"retention_days"`
	KeepChanged         *bool  `json:"keep_changed"`
	KeepMinimum         *int   `json:"keep_minimum"`
	SoftDeleteGraceDays *int   `json:"soft_delete_grace_days"`
	RunHour             *int   `json:"run_hour"`
	UpdatedBy           string `json:"updated_by"`
}

// UpdateSettings updates the global retention policy
func (h *RetentionHandler) UpdateSettings(c *fiber.Ctx) error {
	var req UpdateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}

	settings, err := models.GetRetentionSettings(h.db)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to load retention settings"})
	}

	if req.IsEnabled != nil {
		settings.IsEnabled = *req.IsEnabled
	}
	if req.RetentionDays != nil {
		if *req.RetentionDays < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "retention_days must be at least 1"})
		}
		settings.RetentionDays = *req.RetentionDays
	}
	if req.KeepChanged != nil {
		settings.KeepChanged = *req.KeepChanged
	}
	if req.KeepMinimum != nil {
		if *req.KeepMinimum < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "keep_minimum cannot be negative"})
		}
		settings.KeepMinimum = *req.KeepMinimum
	}
	if req.SoftDeleteGraceDays != nil {
		if *req.SoftDeleteGraceDays < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "soft_delete_grace_days cannot be negative"})
		}
		settings.SoftDeleteGraceDays = *req.SoftDeleteGraceDays
	}
	if req.RunHour != nil {
		if *req.RunHour < 0 || *req.RunHour > 23 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "run_hour must be between 0 and 23"})
		}
		settings.RunHour = *req.RunHour
	}
	settings.UpdatedBy = req.UpdatedBy

	if err := h.db.Save(settings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to save retention settings"})
	}
	database.InvalidateRetentionSettingsCache()

	return c.JSON(fiber.Map{"success": true, "data": settings})
}

// Preview returns what a retention run would delete, without deleting
func (h *RetentionHandler) Preview(c *fiber.Ctx) error {
	settings, err := models.GetRetentionSettings(h.db)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to load retention settings"})
	}

	engine := services.NewRetentionEngine(h.db, settings)
	preview, err := engine.Preview()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "data": preview})
}

// RunRequest identifies who triggered a manual retention run
type RunRequest struct {
	TriggeredBy string `json:"triggered_by"`
}

// Run executes the retention policy immediately. Manual runs proceed even
// when the scheduled policy is disabled.
func (h *RetentionHandler) Run(c *fiber.Ctx) error {
	var req RunRequest
	c.BodyParser(&req)

	settings, err := models.GetRetentionSettings(h.db)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to load retention settings"})
	}

	engine := services.NewRetentionEngine(h.db, settings)
	execution, err := engine.Execute(models.TriggerManual, req.TriggeredBy)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
			"data":    execution,
		})
	}

	return c.JSON(fiber.Map{"success": true, "data": execution})
}

// ListExecutions returns retention run history, newest first
func (h *RetentionHandler) ListExecutions(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var total int64
	h.db.Model(&models.RetentionExecution{}).Count(&total)

	var executions []models.RetentionExecution
	if err := h.db.Order("started_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&executions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch retention executions"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    executions,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// GetExecution returns one retention run
func (h *RetentionHandler) GetExecution(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid execution ID"})
	}

	var execution models.RetentionExecution
	if err := h.db.First(&execution, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Retention execution not found"})
	}

	return c.JSON(fiber.Map{"success": true, "data": execution})
}
