// Package main provides the Veridian API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/veridianhq/veridian/pkg/persistence"
	"github.com/veridianhq/veridian/pkg/services"
	"github.com/veridianhq/veridian/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	validate    *validator.Validate
}

func NewAPI(logger *slog.Logger, persistence persistence.Persistence) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	definitionService := services.NewDefinition(a.persistence, a.logger)

	handlers := web.NewAPIHandlers(definitionService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Veridian API")
	})

	d := app.Group("/definitions", web.RequireTenant())
	d.Get("/", handlers.GetDefinitions)
	d.Post("/", handlers.CreateDefinition)
	d.Post("/validate", handlers.ValidateGraph)
	d.Get("/:id", handlers.GetDefinition)
	d.Patch("/:id", handlers.UpdateDefinitionMetadata)
	d.Put("/:id/graph", handlers.UpdateDefinitionGraph)
	d.Post("/:id/publish", handlers.PublishDefinition)
	d.Post("/:id/unpublish", handlers.UnpublishDefinition)
	d.Post("/:id/archive", handlers.ArchiveDefinition)
	d.Post("/:id/unarchive", handlers.UnarchiveDefinition)
	d.Post("/:id/versions", handlers.CreateDefinitionVersion)
	d.Get("/:id/usage", handlers.GetDefinitionUsage)

	o := app.Group("/outbox", web.RequireTenant())
	o.Get("/dead-letters", handlers.GetDeadLetters)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
