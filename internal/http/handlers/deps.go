package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"stockboard/internal/live"
	"stockboard/internal/session"
)

type Deps struct {
	Sessions *session.Manager

	DashboardHandler *DashboardHandler
	ProductHandler   *ProductHandler
	MovementHandler  *MovementHandler
	LiveHandler      *LiveHandler
}

func NewDeps(sessions *session.Manager, src live.Source) *Deps {
	return &Deps{
		Sessions:         sessions,
		DashboardHandler: &DashboardHandler{KeepAlive: 15 * time.Second},
		ProductHandler:   &ProductHandler{},
		MovementHandler:  &MovementHandler{},
		LiveHandler:      &LiveHandler{Source: src, DialTimeout: 5 * time.Second},
	}
}

// Mount registers the dashboard routes. Every route runs inside a session.
func Mount(r fiber.Router, d *Deps) {
	r.Use(RequireSession(d.Sessions))

	r.Get("/", d.DashboardHandler.Home)
	r.Get("/events", d.DashboardHandler.Events)
	r.Get("/api/state", d.DashboardHandler.State)
	r.Post("/notice/dismiss", d.DashboardHandler.DismissNotice)
	r.Post("/modals/close", d.DashboardHandler.CloseModals)

	r.Post("/products", d.ProductHandler.Register)
	r.Post("/products/:sku/edit", d.ProductHandler.OpenEdit)
	r.Post("/products/:sku/delete", d.ProductHandler.Delete)
	r.Post("/products/:sku/forecast", d.ProductHandler.Forecast)
	r.Post("/products/:sku", d.ProductHandler.Save)

	r.Post("/movements", d.MovementHandler.Record)

	r.Post("/live/reconnect", d.LiveHandler.Reconnect)
}
