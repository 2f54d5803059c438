package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"svcpanel/panel"
	"svcpanel/token"
	"svcpanel/utils"
)

const panelKey = "panel"

// BearerAuth validates "Authorization: Bearer" tokens. When required is
// false, requests without the header pass through; a bad token never does.
func BearerAuth(tokens *token.Service, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			if required {
				return utils.UnauthorizedError("missing token", nil)
			}
			return c.Next()
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return utils.UnauthorizedError("malformed authorization header", nil)
		}

		claims, err := tokens.Validate(raw)
		if err != nil {
			return utils.UnauthorizedError("invalid token", err)
		}

		c.Locals("email", claims.Email)
		return c.Next()
	}
}

// RequireLogin lets authenticated dashboard sessions through and sends
// everyone else to the login page
func RequireLogin(store *session.Store, reg *panel.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			return utils.InternalServerError("Session error", err)
		}

		p, ok := reg.Lookup(sess.ID())
		if !ok || !p.Authenticated() {
			if WantsJSON(c) {
				return utils.UnauthorizedError("login required", nil)
			}
			return c.Redirect("/login")
		}

		p.Touch()
		c.Locals(panelKey, p)
		return c.Next()
	}
}

// PanelFrom returns the panel stored by RequireLogin
func PanelFrom(c *fiber.Ctx) *panel.Panel {
	p, _ := c.Locals(panelKey).(*panel.Panel)
	return p
}

// WantsJSON reports whether the caller expects JSON instead of a page
func WantsJSON(c *fiber.Ctx) bool {
	if c.Get("HX-Request") != "" {
		return true
	}
	if strings.HasPrefix(c.Path(), "/api") {
		return true
	}
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON)
}
