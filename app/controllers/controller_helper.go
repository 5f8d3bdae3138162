package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/roamwire/roamwire/internal/pkg/apperror"
)

// renderError writes err as {"error": code, "message": msg} with the status
// that matches its kind.
func renderError(c *fiber.Ctx, err error) error {
	status := apperror.HTTPStatus(err)
	switch apperror.KindOf(err) {
	case apperror.KindFatal:
		log.Errorf("[HTTP] %s %s: %+v", c.Method(), c.Path(), err)
	case apperror.KindTransient:
		log.Warnf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   apperror.CodeOf(err),
		"message": apperror.MessageOf(err),
	})
}

func bindJSON(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperror.Validation("invalid_body", "Request body must be valid JSON")
	}
	return nil
}
