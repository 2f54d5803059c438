package web

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"svcpanel/middleware"
	"svcpanel/utils"
)

type LanguageHandler struct {
	cookieSecure bool
}

func NewLanguageHandler(cookieSecure bool) *LanguageHandler {
	return &LanguageHandler{cookieSecure: cookieSecure}
}

// SetLanguage stores the UI language in the lang cookie
func (h *LanguageHandler) SetLanguage(c *fiber.Ctx) error {
	language := c.FormValue("language")
	if !utils.IsSupportedLanguage(language) {
		return utils.BadRequestError("Unsupported language", nil)
	}

	c.Cookie(&fiber.Cookie{
		Name:     "lang",
		Value:    language,
		Path:     "/",
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		HTTPOnly: true,
		SameSite: "Lax",
		Secure:   h.cookieSecure,
	})

	if middleware.WantsJSON(c) {
		return c.JSON(fiber.Map{
			"success":  true,
			"language": language,
		})
	}

	return c.Redirect("/")
}
