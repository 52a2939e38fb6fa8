package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/basekick-labs/insight/internal/query"
	"github.com/basekick-labs/insight/internal/service"
)

// errorStatus maps service and query errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrDatasetNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrInvalidDataset),
		errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, query.ErrResultTooLarge):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}
