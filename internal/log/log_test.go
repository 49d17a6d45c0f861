package log_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	applog "stockboard/internal/log"
)

type entry struct {
	Level  string `json:"level"`
	Kind   string `json:"kind"`
	Action string `json:"action"`
	ReqID  string `json:"req_id"`
	Path   string `json:"path"`
	Error  string `json:"error"`
	SKU    string `json:"sku"`
}

func decode(t *testing.T, buf *bytes.Buffer) []entry {
	t.Helper()
	var out []entry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("not json: %q", line)
		}
		out = append(out, e)
	}
	return out
}

func TestActionLogsCarryRequestData(t *testing.T) {
	var buf bytes.Buffer
	applog.SetOutput(&buf)

	app := fiber.New()
	app.Use(requestid.New())
	app.Post("/products", func(c *fiber.Ctx) error {
		applog.Audit(c, "product.create", map[string]any{"sku": "ABC-1"})
		applog.Error(c, "product.create.fail", errors.New("boom"), nil)
		return c.SendStatus(fiber.StatusNoContent)
	})
	if _, err := app.Test(httptest.NewRequest("POST", "/products", nil)); err != nil {
		t.Fatal(err)
	}

	entries := decode(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d: %s", len(entries), buf.String())
	}
	audit := entries[0]
	if audit.Kind != "audit" || audit.Action != "product.create" || audit.SKU != "ABC-1" {
		t.Fatalf("bad audit entry: %+v", audit)
	}
	if audit.ReqID == "" || audit.Path != "/products" {
		t.Fatalf("request data missing: %+v", audit)
	}
	if entries[1].Level != "error" || entries[1].Error != "boom" {
		t.Fatalf("bad error entry: %+v", entries[1])
	}
}

func TestBackgroundLogWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	applog.SetOutput(&buf)

	applog.Info(nil, "live.open", map[string]any{"url": "ws://x"})
	entries := decode(t, &buf)
	if len(entries) != 1 || entries[0].Action != "live.open" || entries[0].Path != "" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
