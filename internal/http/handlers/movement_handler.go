package handlers

import (
	"github.com/gofiber/fiber/v2"

	"stockboard/internal/domain"
	"stockboard/internal/log"
	"stockboard/internal/store"
)

type MovementHandler struct{}

// POST /movements
func (h *MovementHandler) Record(c *fiber.Ctx) error {
	d := store.MovementDraft{
		SKU:       c.FormValue("sku"),
		Direction: domain.Direction(c.FormValue("tipo")),
		Quantity:  c.FormValue("quantidade"),
	}
	if err := storeOf(c).SubmitMovement(c.UserContext(), d); err != nil {
		logFailure(c, "movement.create.fail", err, map[string]any{"sku": d.SKU, "tipo": d.Direction})
		return back(c)
	}
	log.Audit(c, "movement.create", map[string]any{"sku": d.SKU, "tipo": d.Direction, "quantidade": d.Quantity})
	return back(c)
}
