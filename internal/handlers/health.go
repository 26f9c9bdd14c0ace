package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ReadinessCheck probes one dependency. A nil error means ready.
type ReadinessCheck func(ctx context.Context) error

// Health serves liveness and readiness probes.
type Health struct {
	checks map[string]ReadinessCheck
}

// NewHealth creates a probe handler with no checks.
func NewHealth() *Health {
	return &Health{checks: make(map[string]ReadinessCheck)}
}

// AddCheck registers a named readiness check.
func (h *Health) AddCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// Register mounts the probe routes.
func (h *Health) Register(app *fiber.App) {
	app.Get("/healthz", h.Liveness)
	app.Get("/readyz", h.Readiness)
}

// Liveness always reports ok while the process serves requests.
func (h *Health) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness runs every registered check with a short deadline.
func (h *Health) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			ready = false
		} else {
			results[name] = "ok"
		}
	}

	status := fiber.StatusOK
	state := "ready"
	if !ready {
		status = fiber.StatusServiceUnavailable
		state = "not ready"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "checks": results})
}
