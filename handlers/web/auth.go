package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"svcpanel/config"
	"svcpanel/panel"
	"svcpanel/utils"
)

type AuthHandler struct {
	store    *session.Store
	config   *config.Config
	registry *panel.Registry
}

// NewAuthHandler creates a new instance of AuthHandler
func NewAuthHandler(store *session.Store, config *config.Config, registry *panel.Registry) *AuthHandler {
	return &AuthHandler{
		store:    store,
		config:   config,
		registry: registry,
	}
}

func (h *AuthHandler) loginData(c *fiber.Ctx, email, errMsg string) fiber.Map {
	localizer, _ := c.Locals("localizer").(*i18n.Localizer)
	if errMsg == panel.InvalidCredentialsMessage {
		errMsg = utils.T(localizer, "login_invalid")
	}

	data := fiber.Map{
		"Email":     email,
		"Error":     errMsg,
		"CSRFToken": c.Locals("csrf"),
		"L":         localizer,
		"Lang":      c.Locals("lang"),
		"ShowHint":  h.config.Admin.ShowHint,
	}
	if h.config.Admin.ShowHint {
		data["HintEmail"] = h.config.Admin.Email
		if h.config.Admin.PasswordHash == "" {
			data["HintPassword"] = h.config.Admin.Password
		}
	}
	return data
}

// ShowLogin renders the login page
func (h *AuthHandler) ShowLogin(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err == nil {
		if p, ok := h.registry.Lookup(sess.ID()); ok && p.Authenticated() {
			return c.Redirect("/")
		}
	}
	return c.Render("login", h.loginData(c, "", ""))
}

// HandleLogin processes the login form
func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return utils.InternalServerError("Session error", err)
	}

	email := strings.TrimSpace(c.FormValue("email"))
	password := c.FormValue("password")

	if email == "" || password == "" {
		localizer, _ := c.Locals("localizer").(*i18n.Localizer)
		return c.Status(fiber.StatusBadRequest).Render("login",
			h.loginData(c, email, utils.T(localizer, "login_required")))
	}

	// Failed attempts never reach the registry; the session is not saved
	// for them, so each retry arrives with a new id.
	id := sess.ID()
	p, registered := h.registry.Lookup(id)
	if !registered {
		p = h.registry.New()
	}
	if err := p.SubmitLogin(c.UserContext(), email, password); err != nil {
		status := fiber.StatusUnauthorized
		if !errors.Is(err, panel.ErrInvalidCredentials) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).Render("login", h.loginData(c, email, p.View().Session.Error))
	}

	sess.Set("email", email)
	sess.SetExpiry(h.config.Session.Expiration)
	if err := sess.Save(); err != nil {
		p.Logout()
		return utils.InternalServerError("Failed to create session", err)
	}
	// Save releases sess, so id was read before it.
	h.registry.Put(id, p)

	return c.Redirect("/")
}

// HandleLogout processes user logout
func (h *AuthHandler) HandleLogout(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return c.Redirect("/login")
	}

	if p, ok := h.registry.Lookup(sess.ID()); ok {
		p.Logout()
		h.registry.Delete(sess.ID())
	}

	if err := sess.Destroy(); err != nil {
		return utils.InternalServerError("Error during logout", err)
	}

	return c.Redirect("/login")
}
