package handlers

import (
	"bufio"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	applog "stockboard/internal/log"
	"stockboard/internal/view"
)

type DashboardHandler struct {
	KeepAlive time.Duration
}

// GET /  (?tab=inventory|history|chart, ?partial=live for the live region only)
//
// A full page view re-fetches products and history; partial refreshes only
// render what the session already holds.
func (h *DashboardHandler) Home(c *fiber.Ctx) error {
	st := storeOf(c)
	if c.Query("partial") == "live" {
		return renderPage(c, "live", st, c.Query("tab"))
	}
	if mounted, _ := c.Locals("mounted").(bool); !mounted {
		if err := st.Load(c.UserContext()); err != nil {
			applog.Error(c, "dashboard.reload.fail", err, nil)
		}
	}
	return renderPage(c, "dashboard", st, c.Query("tab"))
}

// GET /api/state
func (h *DashboardHandler) State(c *fiber.Ctx) error {
	return c.JSON(view.Build(storeOf(c).Snapshot(), c.Query("tab")))
}

// GET /events streams the store version on every change until the client
// leaves or the session is unmounted.
func (h *DashboardHandler) Events(c *fiber.Ctx) error {
	st := storeOf(c)
	changes, stop := st.Changes()
	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer stop()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		send := func() error {
			fmt.Fprintf(w, "event: state\ndata: %d\n\n", st.Snapshot().Version)
			return w.Flush()
		}
		if err := send(); err != nil {
			return
		}
		for {
			select {
			case _, ok := <-changes:
				if !ok {
					fmt.Fprint(w, "event: closed\ndata: session ended\n\n")
					_ = w.Flush()
					return
				}
				if err := send(); err != nil {
					return
				}
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				if err := w.Flush(); err != nil {
					applog.Logger.Debug().Err(err).Msg("event stream closed by client")
					return
				}
			}
		}
	}))
	return nil
}

// POST /notice/dismiss
func (h *DashboardHandler) DismissNotice(c *fiber.Ctx) error {
	storeOf(c).DismissNotice()
	return back(c)
}

// POST /modals/close
func (h *DashboardHandler) CloseModals(c *fiber.Ctx) error {
	storeOf(c).CloseModals()
	return back(c)
}
