package handlers

import (
	"context"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/netvault/backend/internal/models"
	"github.com/netvault/backend/internal/progress"
	"github.com/netvault/backend/internal/services"
)

// JobHandler exposes backup jobs, their executions and live progress.
type JobHandler struct {
	db      *gorm.DB
	runner  *services.BackupRunner
	tracker *progress.Tracker
}

func NewJobHandler(db *gorm.DB, runner *services.BackupRunner, tracker *progress.Tracker) *JobHandler {
	return &JobHandler{db: db, runner: runner, tracker: tracker}
}

// List returns all backup jobs
func (h *JobHandler) List(c *fiber.Ctx) error {
	query := h.db.Model(&models.BackupJob{}).Preload("Devices").Preload("Groups")

	if enabled := c.Query("is_enabled"); enabled != "" {
		query = query.Where("is_enabled = ?", enabled == "true")
	}

	var jobs []models.BackupJob
	if err := query.Order("name").Find(&jobs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch jobs"})
	}

	return c.JSON(fiber.Map{"success": true, "data": jobs})
}

// Get returns a single job
func (h *JobHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid job ID"})
	}

	var job models.BackupJob
	if err := h.db.Preload("Devices").Preload("Groups").First(&job, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Job not found"})
	}

	return c.JSON(fiber.Map{"success": true, "data": job})
}

// RunJobRequest identifies who triggered a manual run
type RunJobRequest struct {
	TriggeredBy string `json:"triggered_by"`
}

// Run launches a job immediately. The run continues in the background; the
// response carries the execution ID to poll for progress.
func (h *JobHandler) Run(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid job ID"})
	}

	var job models.BackupJob
	if err := h.db.First(&job, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Job not found"})
	}

	var req RunJobRequest
	c.BodyParser(&req)

	go func() {
		if _, err := h.runner.RunJob(context.Background(), job.ID, req.TriggeredBy); err != nil {
			log.Printf("JobHandler: manual run of job '%s' failed: %v", job.Name, err)
		}
	}()

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Job started",
	})
}

// ListExecutions returns job executions, newest first
func (h *JobHandler) ListExecutions(c *fiber.Ctx) error {
	query := h.db.Model(&models.JobExecution{}).Preload("Job")

	if jobID := c.Query("job_id"); jobID != "" {
		query = query.Where("job_id = ?", jobID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
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

	var executions []models.JobExecution
	if err := query.Order("started_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&executions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch executions"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    executions,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// GetExecution returns one execution with its snapshots
func (h *JobHandler) GetExecution(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid execution ID"})
	}

	var execution models.JobExecution
	if err := h.db.Preload("Job").First(&execution, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Execution not found"})
	}

	var snapshots []models.ConfigSnapshot
	h.db.Preload("Device").Where("job_execution_id = ?", execution.ID).Order("created_at").Find(&snapshots)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"execution": execution,
			"snapshots": snapshots,
		},
	})
}

// GetProgress returns live progress from Redis, falling back to the durable
// execution record when no live state exists.
func (h *JobHandler) GetProgress(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid execution ID"})
	}

	state, err := h.tracker.Get(c.UserContext(), uint(id))
	if err != nil {
		log.Printf("JobHandler: progress read failed for execution %d: %v", id, err)
	}
	if state != nil {
		return c.JSON(fiber.Map{"success": true, "live": true, "data": state})
	}

	var execution models.JobExecution
	if err := h.db.First(&execution, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Execution not found"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"live":    false,
		"data": fiber.Map{
			"execution_id":    execution.ID,
			"status":          execution.Status,
			"total_devices":   execution.TotalDevices,
			"completed_count": execution.SuccessfulDevices + execution.FailedDevices,
			"success_count":   execution.SuccessfulDevices,
			"failed_count":    execution.FailedDevices,
			"changed_count":   execution.ChangedDevices,
		},
	})
}
