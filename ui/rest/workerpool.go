package rest

import (
	"time"

	"github.com/AzielCF/az-connect/pkg/msgworker"
	"github.com/AzielCF/az-connect/pkg/utils"
	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
)

type WorkerPool struct {
	Pool *msgworker.Pool
}

func InitRestWorkerPool(app fiber.Router, pool *msgworker.Pool) WorkerPool {
	handler := WorkerPool{Pool: pool}
	app.Get("/pool/stats", handler.GetStats)
	return handler
}

// GetStats returns real-time statistics of the automation forwarding pool.
func (h *WorkerPool) GetStats(c *fiber.Ctx) error {
	if h.Pool == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
			Status:  fiber.StatusServiceUnavailable,
			Code:    "UNAVAILABLE",
			Message: "Worker pool not initialized",
		})
	}

	stats := h.Pool.GetStats()
	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Worker pool statistics",
		Results: fiber.Map{
			"stats": stats,
			"summary": fiber.Map{
				"processed": humanize.Comma(stats.TotalProcessed),
				"dropped":   humanize.Comma(stats.TotalDropped),
				"errors":    humanize.Comma(stats.TotalErrors),
				"uptime":    stats.Uptime.Round(time.Second).String(),
			},
		},
	})
}
