// Package main provides the kernelq API server: the HTTP surface through
// which external callers submit code to a document's execution queue and
// drive its session lifecycle.
package main

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/notekit/kernelq/pkg/coordinator"
)

type API struct {
	logger      *slog.Logger
	coordinator *coordinator.Coordinator
	validate    *validator.Validate
	tracer      trace.Tracer
}

// NewAPI creates the API. The tracer may be nil when tracing is disabled.
func NewAPI(logger *slog.Logger, coord *coordinator.Coordinator, tracer trace.Tracer) *API {
	return &API{
		logger:      logger,
		coordinator: coord,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		tracer:      tracer,
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("kernelq API")
	})

	d := app.Group("/documents/:id")
	d.Post("/executions", a.EnqueueExecution)
	d.Get("/pending", a.GetPending)
	d.Post("/interrupt", a.Interrupt)
	d.Post("/restart", a.Restart)
	d.Post("/cancel", a.Cancel)
	app.Delete("/documents/:id", a.CloseDocument)

	e := app.Group("/executions/:id")
	e.Get("/", a.GetExecution)
	e.Get("/outputs", a.GetOutputs)

	return app
}
