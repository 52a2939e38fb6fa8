package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/queryregistry"
)

// QueryManagementHandler exposes the query registry.
type QueryManagementHandler struct {
	registry *queryregistry.Registry
	logger   zerolog.Logger
}

// NewQueryManagementHandler creates a new query management handler.
func NewQueryManagementHandler(registry *queryregistry.Registry, logger zerolog.Logger) *QueryManagementHandler {
	return &QueryManagementHandler{
		registry: registry,
		logger:   logger.With().Str("component", "query-mgmt-api").Logger(),
	}
}

// RegisterRoutes registers query management API routes.
func (h *QueryManagementHandler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/api/v1/queries")
	group.Get("/active", h.listActiveQueries)
	group.Get("/history", h.listQueryHistory)
	group.Get("/:id", h.getQuery)
}

// listActiveQueries returns all currently running queries.
func (h *QueryManagementHandler) listActiveQueries(c *fiber.Ctx) error {
	active := h.registry.GetActive()
	return c.JSON(fiber.Map{
		"success": true,
		"queries": active,
		"count":   len(active),
	})
}

// listQueryHistory returns recently finished queries, newest first.
func (h *QueryManagementHandler) listQueryHistory(c *fiber.Ctx) error {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 1000)
		}
	}

	history := h.registry.GetHistory(limit)
	return c.JSON(fiber.Map{
		"success": true,
		"queries": history,
		"count":   len(history),
	})
}

// getQuery returns details for a specific query by ID.
func (h *QueryManagementHandler) getQuery(c *fiber.Ctx) error {
	q := h.registry.GetQuery(c.Params("id"))
	if q == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Query not found",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"query":   q,
	})
}
