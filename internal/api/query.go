package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/query"
	"github.com/basekick-labs/insight/internal/service"
)

// QueryHandler serves POST /query.
type QueryHandler struct {
	svc    *service.Service
	logger zerolog.Logger
}

func NewQueryHandler(svc *service.Service, logger zerolog.Logger) *QueryHandler {
	return &QueryHandler{
		svc:    svc,
		logger: logger.With().Str("component", "query-handler").Logger(),
	}
}

// RegisterRoutes registers the query route
func (h *QueryHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/query", h.handleQuery)
}

func (h *QueryHandler) handleQuery(c *fiber.Ctx) error {
	doc, err := query.Decode(c.Body())
	if err != nil {
		return errorResponse(c, err)
	}

	ctx := service.WithRemoteAddr(c.UserContext(), c.IP())
	rows, err := h.svc.PerformQuery(ctx, doc)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"result": rows,
	})
}
