package rest

import (
	"context"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/pkg/utils"
	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
)

const healthCheckTimeout = 3 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

type Health struct {
	Checks  map[string]Check
	Conns   domain.ConnectionRepository
	Started time.Time
}

func InitRestHealth(app fiber.Router, conns domain.ConnectionRepository, checks map[string]Check, started time.Time) Health {
	handler := Health{Checks: checks, Conns: conns, Started: started}
	app.Get("/health", handler.GetStatus)
	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	healthy := true
	checks := make(map[string]string, len(h.Checks))
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	results := fiber.Map{
		"checks":  checks,
		"started": humanize.Time(h.Started),
	}
	if h.Conns != nil {
		if counts, err := h.Conns.CountByStatus(ctx); err == nil {
			results["connections"] = counts
		}
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
			Status:  fiber.StatusServiceUnavailable,
			Code:    "DEGRADED",
			Message: "One or more dependencies are unavailable",
			Results: results,
		})
	}
	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Healthy",
		Results: results,
	})
}
