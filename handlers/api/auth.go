package api

import (
	"github.com/gofiber/fiber/v2"

	"svcpanel/models"
	"svcpanel/panel"
	"svcpanel/utils"
)

// AuthHandler exposes the credential check over HTTP
type AuthHandler struct {
	auth panel.Authenticator
}

func NewAuthHandler(auth panel.Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login checks an email/password pair and returns a token on success
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.LoginResponse{
			Message: "Invalid request body",
		})
	}

	res, err := h.auth.Authenticate(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return utils.ServiceUnavailableError("Login is unavailable", err)
	}

	if !res.OK {
		utils.Log.Warn("Rejected API login for %s", req.Email)
		return c.Status(fiber.StatusUnauthorized).JSON(models.LoginResponse{
			Message: res.Message,
		})
	}

	return c.JSON(models.LoginResponse{
		Success: true,
		Token:   res.Token,
	})
}
