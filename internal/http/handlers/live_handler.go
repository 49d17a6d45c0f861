package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"stockboard/internal/domain"
	"stockboard/internal/live"
	"stockboard/internal/log"
	"stockboard/internal/store"
)

type LiveHandler struct {
	Source      live.Source
	DialTimeout time.Duration
}

// POST /live/reconnect opens the push channel again after a loss. The
// session manager resyncs every store once it is open.
func (h *LiveHandler) Reconnect(c *fiber.Ctx) error {
	st := storeOf(c)
	if h.Source == nil {
		st.Notify(store.NoticeWarning, "Live updates are not configured.")
		return back(c)
	}
	if h.Source.State() != live.Disconnected {
		return back(c)
	}
	timeout := h.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
	defer cancel()
	if err := h.Source.Connect(ctx); err != nil {
		log.Error(c, "live.reconnect.fail", err, nil)
		st.Notify(store.NoticeError, domain.UserMessage(err))
		return back(c)
	}
	log.Audit(c, "live.reconnect", nil)
	st.Notify(store.NoticeSuccess, "Live updates reconnected.")
	return back(c)
}
