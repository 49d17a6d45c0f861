package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"stockboard/internal/domain"
	"stockboard/internal/log"
	"stockboard/internal/store"
	"stockboard/internal/validate"
)

type ProductHandler struct{}

// skuParam reads the path-escaped SKU from the route.
func skuParam(c *fiber.Ctx) (string, bool) {
	raw, err := url.PathUnescape(c.Params("sku"))
	if err != nil {
		log.Security(c, "validation.fail", map[string]any{"field": "sku"})
		return "", false
	}
	sku, ok := validate.SKU(raw)
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "sku"})
	}
	return sku, ok
}

// POST /products
func (h *ProductHandler) Register(c *fiber.Ctx) error {
	d := store.RegistrationDraft{
		SKU:         c.FormValue("sku"),
		Name:        c.FormValue("nome"),
		Description: c.FormValue("descricao"),
		Quantity:    c.FormValue("quantidade_atual"),
		Threshold:   c.FormValue("ponto_ressuprimento"),
	}
	if err := storeOf(c).SubmitRegistration(c.UserContext(), d); err != nil {
		logFailure(c, "product.create.fail", err, map[string]any{"sku": d.SKU})
		return back(c)
	}
	log.Audit(c, "product.create", map[string]any{"sku": d.SKU})
	return back(c)
}

// POST /products/:sku/edit
func (h *ProductHandler) OpenEdit(c *fiber.Ctx) error {
	sku, ok := skuParam(c)
	if !ok {
		return notFound(c, "This product is no longer available")
	}
	_ = storeOf(c).OpenEdit(sku)
	return back(c)
}

// POST /products/:sku
func (h *ProductHandler) Save(c *fiber.Ctx) error {
	sku, ok := skuParam(c)
	if !ok {
		return notFound(c, "This product is no longer available")
	}
	f := store.EditForm{
		Name:        c.FormValue("nome"),
		Description: c.FormValue("descricao"),
		Threshold:   c.FormValue("ponto_ressuprimento"),
	}
	if err := storeOf(c).SaveEdit(c.UserContext(), sku, f); err != nil {
		logFailure(c, "product.update.fail", err, map[string]any{"sku": sku})
		return back(c)
	}
	log.Audit(c, "product.update", map[string]any{"sku": sku, "threshold": f.Threshold})
	return back(c)
}

// POST /products/:sku/delete
func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	sku, ok := skuParam(c)
	if !ok {
		return notFound(c, "This product is no longer available")
	}
	if err := storeOf(c).Delete(c.UserContext(), sku); err != nil {
		logFailure(c, "product.delete.fail", err, map[string]any{"sku": sku})
		return back(c)
	}
	log.Audit(c, "product.delete", map[string]any{"sku": sku})
	return back(c)
}

// POST /products/:sku/forecast
func (h *ProductHandler) Forecast(c *fiber.Ctx) error {
	sku, ok := skuParam(c)
	if !ok {
		return notFound(c, "This product is no longer available")
	}
	if err := storeOf(c).RequestForecast(c.UserContext(), sku); err != nil {
		logFailure(c, "product.forecast.fail", err, map[string]any{"sku": sku})
	}
	return back(c)
}

// logFailure keeps user mistakes at info level and everything else at error.
func logFailure(c *fiber.Ctx, action string, err error, fields map[string]any) {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindNotFound, domain.KindInsufficientStock:
		if fields == nil {
			fields = map[string]any{}
		}
		fields["reason"] = domain.KindOf(err).String()
		log.Info(c, action, fields)
	default:
		log.Error(c, action, err, fields)
	}
}
