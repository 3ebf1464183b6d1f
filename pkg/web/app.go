package web

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

type AppConfig struct {
	Name     string
	Handlers *APIHandlers
	// Ready reports whether the dependencies can serve requests, typically a
	// persistence health check.
	Ready func(ctx context.Context) error
	// RequestLog enables the access log middleware.
	RequestLog bool
}

func NewApp(cfg AppConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      cfg.Name,
		ErrorHandler: errorHandler,
	})

	app.Use(recoverer.New())

	if cfg.RequestLog {
		app.Use(logger.New(logger.Config{
			DisableColors: true,
		}))
	}

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			if cfg.Ready == nil {
				return true
			}

			ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
			defer cancel()

			return cfg.Ready(ctx) == nil
		},
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	handlers := cfg.Handlers

	app.Get("/capabilities", handlers.GetCapabilities)

	w := app.Group("/webhooks")
	w.Get("/facebook", handlers.VerifyFacebook)
	w.Post("/facebook", handlers.ReceiveFacebook)
	w.Post("/", handlers.ReceiveWebhook)
	w.Post("/:webhookId", handlers.ReceiveWebhook)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	app.Get("/events/:id/executions", handlers.ListEventExecutions)

	return app
}
