package api

import (
	"github.com/gofiber/fiber/v2"

	"svcpanel/metrics"
	"svcpanel/models"
	"svcpanel/storage"
	"svcpanel/utils"
)

// SettingsHandler serves the settings record the dashboard edits
type SettingsHandler struct {
	store storage.SettingsStore
	feed  *FeedHandler
}

func NewSettingsHandler(store storage.SettingsStore, feed *FeedHandler) *SettingsHandler {
	return &SettingsHandler{store: store, feed: feed}
}

// GetSettings returns the current record
func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	stored, err := h.store.Load(c.UserContext())
	if err != nil {
		return utils.InternalServerError("Error fetching settings", err)
	}
	return c.JSON(stored)
}

// UpdateSettings replaces the record. Absent fields are stored as false.
func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	var payload models.SettingsPayload
	if err := c.BodyParser(&payload); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}

	stored, err := h.store.Save(c.UserContext(), payload.Normalize())
	if err != nil {
		return utils.InternalServerError("Error saving settings", err)
	}

	metrics.IncSettingsWrite(c.Route().Path)
	utils.Log.WithFields(map[string]interface{}{
		"appointment":  stored.Appointment,
		"pickup":       stored.Pickup,
		"speakToHuman": stored.SpeakToHuman,
	}).Info("Settings updated")

	if h.feed != nil {
		h.feed.Broadcast(stored)
	}

	return c.JSON(models.UpdateResponse{
		Success:  true,
		Settings: stored.Settings.ToPayload(),
	})
}
