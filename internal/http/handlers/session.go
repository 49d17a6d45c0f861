package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	applog "stockboard/internal/log"
	"stockboard/internal/session"
	"stockboard/internal/store"
)

const sessionCookie = "sid"

// RequireSession mounts (or finds) the caller's store and puts it in Locals.
// A missing or malformed sid gets a fresh one.
func RequireSession(mgr *session.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies(sessionCookie)
		if _, err := uuid.Parse(sid); err != nil {
			if sid != "" {
				applog.Security(c, "session.sid.invalid", nil)
			}
			sid = uuid.NewString()
			c.Cookie(&fiber.Cookie{Name: sessionCookie, Value: sid, Path: "/", HTTPOnly: true, SameSite: "Lax"})
		}
		st, mounted := mgr.Mount(c.UserContext(), sid)
		c.Locals("store", st)
		c.Locals("mounted", mounted)
		return c.Next()
	}
}

func storeOf(c *fiber.Ctx) *store.Store {
	st, _ := c.Locals("store").(*store.Store)
	return st
}
