package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"svcpanel/middleware"
	"svcpanel/models"
	"svcpanel/panel"
	"svcpanel/utils"
)

// card is one service toggle as rendered on the dashboard
type card struct {
	Field       models.Field
	Title       string
	Description string
	Enabled     bool
	Pending     bool
	State       panel.ToggleState
	Status      string
}

var cardMessages = map[models.Field][2]string{
	models.FieldAppointment:  {"service_appointment_title", "service_appointment_description"},
	models.FieldPickup:       {"service_pickup_title", "service_pickup_description"},
	models.FieldSpeakToHuman: {"service_speak_to_human_title", "service_speak_to_human_description"},
}

// statusLabel is the text next to a toggle
func statusLabel(localizer *i18n.Localizer, v panel.View, f models.Field) string {
	switch {
	case v.Pending(f):
		return utils.T(localizer, "status_pending")
	case v.Status(f) == panel.StateRolledBack:
		return utils.T(localizer, "status_rolled_back")
	case v.Enabled(f):
		return utils.T(localizer, "status_enabled")
	default:
		return utils.T(localizer, "status_disabled")
	}
}

func buildCards(localizer *i18n.Localizer, v panel.View) []card {
	cards := make([]card, 0, len(models.Fields))
	for _, f := range models.Fields {
		keys := cardMessages[f]
		cards = append(cards, card{
			Field:       f,
			Title:       utils.T(localizer, keys[0]),
			Description: utils.T(localizer, keys[1]),
			Enabled:     v.Enabled(f),
			Pending:     v.Pending(f),
			State:       v.Status(f),
			Status:      statusLabel(localizer, v, f),
		})
	}
	return cards
}

type DashboardHandler struct {
	store    *session.Store
	registry *panel.Registry
}

func NewDashboardHandler(store *session.Store, registry *panel.Registry) *DashboardHandler {
	return &DashboardHandler{
		store:    store,
		registry: registry,
	}
}

// sessionEnded reports errors after which the panel is no longer logged in
func sessionEnded(err error) bool {
	return errors.Is(err, panel.ErrSessionChanged) ||
		errors.Is(err, panel.ErrNotAuthenticated) ||
		errors.Is(err, panel.ErrUnauthorized)
}

// endSession drops the browser session and sends the caller to the login page
func (h *DashboardHandler) endSession(c *fiber.Ctx, cause error) error {
	if sess, err := h.store.Get(c); err == nil {
		if p, ok := h.registry.Lookup(sess.ID()); ok {
			p.Logout()
			h.registry.Delete(sess.ID())
		}
		if err := sess.Destroy(); err != nil {
			utils.Log.Warn("Failed to destroy session: %v", err)
		}
	}

	if middleware.WantsJSON(c) {
		return utils.UnauthorizedError("Session ended", cause)
	}
	return c.Redirect("/login")
}

// ShowDashboard renders the settings panel
func (h *DashboardHandler) ShowDashboard(c *fiber.Ctx) error {
	p := middleware.PanelFrom(c)
	localizer, _ := c.Locals("localizer").(*i18n.Localizer)
	v := p.View()

	if middleware.WantsJSON(c) {
		return c.JSON(viewJSON(localizer, v))
	}

	return c.Render("dashboard", fiber.Map{
		"Email":     v.Session.Email,
		"Loading":   v.Loading,
		"Cards":     buildCards(localizer, v),
		"CSRFToken": c.Locals("csrf"),
		"L":         localizer,
		"Lang":      c.Locals("lang"),
	})
}

func viewJSON(localizer *i18n.Localizer, v panel.View) fiber.Map {
	fields := fiber.Map{}
	for _, f := range models.Fields {
		fields[string(f)] = fiber.Map{
			"state":  v.Status(f),
			"status": statusLabel(localizer, v, f),
		}
	}
	return fiber.Map{
		"email":    v.Session.Email,
		"loading":  v.Loading,
		"loaded":   v.Loaded,
		"settings": v.Settings,
		"fields":   fields,
	}
}

// HandleToggle flips one service. Browsers without script get redirected
// back; script and HTMX callers get the resolved state as JSON.
func (h *DashboardHandler) HandleToggle(c *fiber.Ctx) error {
	field, err := models.ParseField(c.Params("field"))
	if err != nil {
		return utils.NotFoundError("Unknown service", err)
	}

	p := middleware.PanelFrom(c)
	settings, err := p.Toggle(c.UserContext(), field)
	if sessionEnded(err) {
		return h.endSession(c, err)
	}

	if !middleware.WantsJSON(c) {
		return c.Redirect("/")
	}

	localizer, _ := c.Locals("localizer").(*i18n.Localizer)
	v := p.View()
	res := fiber.Map{
		"success":  err == nil,
		"field":    field,
		"settings": settings,
		"state":    v.Status(field),
		"status":   statusLabel(localizer, v, field),
	}
	if err != nil {
		res["error"] = utils.T(localizer, "error_network")
		return c.Status(fiber.StatusBadGateway).JSON(res)
	}
	return c.JSON(res)
}

// HandleRefresh reloads the settings from the service
func (h *DashboardHandler) HandleRefresh(c *fiber.Ctx) error {
	p := middleware.PanelFrom(c)
	err := p.LoadSettings(c.UserContext())
	if sessionEnded(err) {
		return h.endSession(c, err)
	}

	if !middleware.WantsJSON(c) {
		return c.Redirect("/")
	}

	localizer, _ := c.Locals("localizer").(*i18n.Localizer)
	res := viewJSON(localizer, p.View())
	if err != nil {
		res["error"] = utils.T(localizer, "error_network")
		return c.Status(fiber.StatusBadGateway).JSON(res)
	}
	return c.JSON(res)
}
