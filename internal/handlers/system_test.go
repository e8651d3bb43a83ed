package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestMirrorTestUnconfigured(t *testing.T) {
	db := testDB(t)

	app := fiber.New()
	app.Post("/mirror/test", NewSystemHandler(db).TestMirror)

	// No body and no stored mirror settings: the probe fails before any
	// network dial
	resp, err := app.Test(httptest.NewRequest("POST", "/mirror/test", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("failed to decode response: %v\n%s", err, body)
	}
	if out.Success {
		t.Fatal("probe with no configured mirror must report failure")
	}
	if !strings.Contains(out.Message, "no mirror host configured") {
		t.Fatalf("message = %q", out.Message)
	}
}

func TestMirrorTestInvalidBody(t *testing.T) {
	db := testDB(t)

	app := fiber.New()
	app.Post("/mirror/test", NewSystemHandler(db).TestMirror)

	req := httptest.NewRequest("POST", "/mirror/test", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
