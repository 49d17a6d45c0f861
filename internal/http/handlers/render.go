package handlers

import (
	"github.com/gofiber/fiber/v2"

	"stockboard/internal/store"
	"stockboard/internal/validate"
	"stockboard/internal/view"
)

func render(c *fiber.Ctx, tmpl string, data fiber.Map) error {
	if data == nil {
		data = fiber.Map{}
	}
	// token the CSRF middleware put into Locals, else the cookie it set
	tok, _ := c.Locals("CSRFToken").(string)
	if tok == "" {
		tok = c.Cookies("csrf_")
	}
	if tok != "" {
		data["CSRFToken"] = tok
	}
	return c.Render(tmpl, data)
}

func renderPage(c *fiber.Ctx, tmpl string, st *store.Store, tab string) error {
	return render(c, tmpl, fiber.Map{"Page": view.Build(st.Snapshot(), tab)})
}

// back redirects to the dashboard tab the form was posted from.
func back(c *fiber.Ctx) error {
	return c.Redirect("/?tab="+validate.Tab(c.FormValue("tab")), fiber.StatusSeeOther)
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).Render("notfound", fiber.Map{"Message": msg})
}
