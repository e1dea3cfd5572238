// Package main provides the DealDrip API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dealdrip/dealdrip/pkg/audit"
	"github.com/dealdrip/dealdrip/pkg/channels"
	"github.com/dealdrip/dealdrip/pkg/eventbus"
	"github.com/dealdrip/dealdrip/pkg/metrics"
	"github.com/dealdrip/dealdrip/pkg/persistence"
	"github.com/dealdrip/dealdrip/pkg/scheduler"
	"github.com/dealdrip/dealdrip/pkg/services"
	"github.com/dealdrip/dealdrip/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	registry    *prometheus.Registry
	aggregator  *metrics.Aggregator
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	registry := prometheus.NewRegistry()

	return &API{
		persistence: persistence,
		logger:      logger,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		registry:    registry,
		aggregator:  metrics.NewAggregator(registry),
	}
}

func (a *API) App(ctx context.Context) *fiber.App {
	// Stats endpoints serve from an aggregator replayed off the delivery and
	// engagement logs. The worker owns the live counters.
	if err := a.aggregator.Rebuild(ctx, a.persistence.Attempts(), a.persistence.Engagements()); err != nil {
		a.logger.WarnContext(ctx, "Failed to rebuild metrics from logs", "error", err)
	}

	// The API does not execute runs. An idle scheduler provides the cancel
	// paths: it only loads, transitions and publishes.
	canceller := scheduler.NewScheduler(
		scheduler.Config{WorkerID: "api"},
		a.persistence,
		channels.NewRegistry(),
		a.aggregator,
		audit.NewSink(a.persistence, a.logger),
		a.eventBus,
		clockwork.NewRealClock(),
		a.logger,
	)

	flowService := services.NewFlow(a.persistence, canceller)
	templateService := services.NewTemplate(a.persistence)
	runService := services.NewRun(a.persistence)

	handlers := web.NewAPIHandlers(
		flowService,
		templateService,
		runService,
		a.validate,
		a.eventBus,
		a.aggregator,
		audit.NewSink(a.persistence, a.logger),
		channels.NewSwitchboard(),
		canceller,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("DealDrip API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	handlers.Register(app)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	app := a.App(ctx)

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
