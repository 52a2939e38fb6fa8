package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/schema"
	"github.com/basekick-labs/insight/internal/service"
)

// DatasetsHandler serves dataset management.
type DatasetsHandler struct {
	svc    *service.Service
	logger zerolog.Logger
}

func NewDatasetsHandler(svc *service.Service, logger zerolog.Logger) *DatasetsHandler {
	return &DatasetsHandler{
		svc:    svc,
		logger: logger.With().Str("component", "datasets-handler").Logger(),
	}
}

// RegisterRoutes registers the dataset routes
func (h *DatasetsHandler) RegisterRoutes(app *fiber.App) {
	app.Put("/dataset/:id/:kind", h.handleAdd)
	app.Delete("/dataset/:id", h.handleRemove)
	app.Get("/datasets", h.handleList)
	app.Get("/api/v1/metrics/datasets", h.handleMetrics)
}

// handleAdd handles PUT /dataset/:id/:kind with a raw zip body
func (h *DatasetsHandler) handleAdd(c *fiber.Ctx) error {
	// Route params alias fasthttp buffers; the id outlives the request.
	id := strings.Clone(c.Params("id"))

	kind, err := schema.ParseKind(c.Params("kind"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ids, err := h.svc.AddDataset(c.UserContext(), id, kind, c.Body())
	if err != nil {
		h.logger.Warn().Err(err).Str("dataset", id).Msg("Failed to add dataset")
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"result": ids,
	})
}

// handleRemove handles DELETE /dataset/:id
func (h *DatasetsHandler) handleRemove(c *fiber.Ctx) error {
	removed, err := h.svc.RemoveDataset(c.UserContext(), strings.Clone(c.Params("id")))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"result": removed,
	})
}

// handleList handles GET /datasets
func (h *DatasetsHandler) handleList(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"result": h.svc.ListDatasets(c.UserContext()),
	})
}

// handleMetrics handles GET /api/v1/metrics/datasets with the records held
// in memory, in total and per kind.
func (h *DatasetsHandler) handleMetrics(c *fiber.Ctx) error {
	infos := h.svc.ListDatasets(c.UserContext())

	type totals struct {
		Datasets int `json:"datasets"`
		Records  int `json:"records"`
	}
	total := 0
	byKind := make(map[schema.Kind]*totals)
	for _, info := range infos {
		total += info.NumRows
		k, ok := byKind[info.Kind]
		if !ok {
			k = &totals{}
			byKind[info.Kind] = k
		}
		k.Datasets++
		k.Records += info.NumRows
	}

	return c.JSON(fiber.Map{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"datasets":  len(infos),
		"records":   total,
		"by_kind":   byKind,
	})
}
