package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"svcpanel/utils"
)

// ErrorHandler maps AppError and fiber.Error to a status code and answers
// with JSON or the error page
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fe *fiber.Error
	if appErr, ok := utils.AsAppError(err); ok {
		code = appErr.Code
		message = appErr.Message
		if code >= fiber.StatusInternalServerError {
			utils.Log.Error("Application error: %v", appErr)
		} else {
			utils.Log.Debug("Request rejected: %v", appErr)
		}
	} else if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		utils.Log.Error("Unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	}

	if WantsJSON(c) {
		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}

	if renderErr := c.Status(code).Render("error", fiber.Map{
		"Error": message,
		"Code":  code,
		"L":     c.Locals("localizer"),
		"Lang":  c.Locals("lang"),
	}); renderErr != nil {
		return c.Status(code).SendString(message)
	}
	return nil
}
