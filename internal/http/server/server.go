// Package server assembles the Fiber app: middleware chain, static assets,
// operational endpoints and the dashboard routes.
package server

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockboard/internal/config"
	"stockboard/internal/http/handlers"
	applog "stockboard/internal/log"
)

// Health reports component state for /healthz.
type Health func() map[string]any

func New(cfg config.Config, deps *handlers.Deps, health Health) *fiber.App {
	engine := html.New(cfg.TemplatesDir, ".html")
	engine.Reload(cfg.IsDevelopment())

	app := fiber.New(fiber.Config{
		Views:     engine,
		BodyLimit: 1 << 20, // 1 MiB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Something went wrong. Please try again."
			if fe, ok := err.(*fiber.Error); ok && fe.Code < 500 {
				code, msg = fe.Code, fe.Message
			} else {
				applog.Error(c, "server.error", err, nil)
			}
			if rerr := c.Status(code).Render("notfound", fiber.Map{"Message": msg}); rerr != nil {
				return c.Status(code).SendString(msg)
			}
			return nil
		},
	})

	// ---------- Middlewares ----------
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Next: func(c *fiber.Ctx) bool { return c.Path() == "/healthz" || c.Path() == "/metrics" },
	}))
	app.Use(helmet.New())
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			p := c.Path()
			// passive refreshes driven by the event stream
			return strings.HasPrefix(p, "/static/") || p == "/events" || p == "/api/state" ||
				p == "/healthz" || p == "/metrics" || c.Query("partial") != ""
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.limit.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).Render("notfound", fiber.Map{"Message": "Too many requests. Please slow down."})
		},
	}))
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:csrf",
		CookieName:     "csrf_",
		ContextKey:     "csrf",
		CookieSameSite: "Lax",
		CookieSecure:   !cfg.IsDevelopment(),
		Expiration:     2 * time.Hour,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", nil)
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Security check failed. Please refresh and try again."})
		},
	}))
	app.Use(func(c *fiber.Ctx) error {
		if tok, ok := c.Locals("csrf").(string); ok {
			c.Locals("CSRFToken", tok)
		}
		return c.Next()
	})

	// ---------- Static & operational ----------
	app.Static("/static", cfg.StaticDir)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		body := fiber.Map{"ok": true}
		if health != nil {
			for k, v := range health() {
				body[k] = v
			}
		}
		return c.JSON(body)
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ---------- Dashboard ----------
	handlers.Mount(app, deps)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).Render("notfound", fiber.Map{"Message": "Page not found"})
	})
	return app
}
