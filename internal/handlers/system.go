package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/netvault/backend/internal/services"
)

// SystemHandler exposes system-level probes, currently the offsite mirror
// connection test.
type SystemHandler struct {
	db *gorm.DB
}

func NewSystemHandler(db *gorm.DB) *SystemHandler {
	return &SystemHandler{db: db}
}

// MirrorTestRequest carries explicit FTP credentials to probe. All fields
// empty means "test the stored mirror configuration".
type MirrorTestRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Path     string `json:"path"`
}

// TestMirror probes FTP connectivity, either with credentials from the
// request body or with the configured mirror settings when no host is given.
func (h *SystemHandler) TestMirror(c *fiber.Ctx) error {
	var req MirrorTestRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}

	var err error
	if req.Host == "" {
		err = services.NewOffsiteMirror(h.db).TestConnection()
	} else {
		port := req.Port
		if port < 1 {
			port = 21
		}
		err = services.TestFTPConnection(req.Host, port, req.Username, req.Password, req.Path)
	}

	if err != nil {
		return c.JSON(fiber.Map{"success": false, "message": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "message": "FTP connection successful"})
}
