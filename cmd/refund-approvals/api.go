package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/refund-approvals/pkg/services"
	"github.com/dukex/refund-approvals/pkg/web"
)

type API struct {
	logger    *slog.Logger
	approvals *services.Approvals
	snapshots web.SnapshotStore
	validate  *validator.Validate
	app       *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	approvals *services.Approvals,
	snapshots web.SnapshotStore,
) *API {
	return &API{
		logger:    logger,
		approvals: approvals,
		snapshots: snapshots,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	handlers := web.NewAPIHandlers(a.approvals, a.validate, a.snapshots)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Refund Approvals API")
	})

	handlers.Routes(app)

	a.app = app

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":"+strconv.Itoa(port), fiber.ListenConfig{
		DisableStartupMessage: true,
	})
}
