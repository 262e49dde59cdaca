package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tkoinhq/pricing-engine/internal/store"
)

// RegisterRoutes wires all HTTP routes onto the fiber app.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st store.Store, handler *PricingHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "ok",
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc == nil || !nc.IsConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
			checks["nats"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	// Internal API routes
	v1 := app.Group("/api/v1")
	v1.Get("/rates", handler.GetAllRates)
	v1.Get("/rates/:quote", handler.GetRate)
	v1.Get("/agents/:agentId/pricing/:currency", handler.GetAgentPricing)
	v1.Post("/quotes", handler.CreateQuote)
	v1.Post("/quotes/:id/validate", handler.ValidateQuote)

	// Unauthenticated rate board
	app.Get("/public/rates", handler.GetPublicRates)
}
