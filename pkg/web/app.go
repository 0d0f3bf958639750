package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/canvasflow/pkg/registry"
	"github.com/dukex/canvasflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// API assembles the HTTP application around the workflow and run services.
type API struct {
	logger    *slog.Logger
	workflows *services.Workflow
	runs      *services.Runs
	registry  *registry.Registry
	gatherer  prometheus.Gatherer
	validate  *validator.Validate
}

// NewAPI creates the API. A nil gatherer leaves /metrics unmounted.
func NewAPI(
	logger *slog.Logger,
	workflows *services.Workflow,
	runs *services.Runs,
	registry *registry.Registry,
	gatherer prometheus.Gatherer,
) *API {
	return &API{
		logger:    logger,
		workflows: workflows,
		runs:      runs,
		registry:  registry,
		gatherer:  gatherer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := NewAPIHandlers(a.workflows, a.runs, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Canvasflow API")
	})

	app.Get("/health", handlers.HealthCheck)
	app.Get("/node-types", handlers.GetNodeTypes)

	if a.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	}

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Post("/validate", handlers.ValidateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/runs", handlers.StartRun)
	w.Get("/:id/runs", handlers.GetWorkflowRuns)
	w.Post("/:id/nodes/:nodeId/test", handlers.TestNode)

	r := app.Group("/runs")
	r.Get("/:runId", handlers.GetRun)
	r.Post("/:runId/stop", handlers.StopRun)
	r.Post("/:runId/forms/:nodeId", handlers.SubmitForm)
	r.Post("/:runId/chat/:nodeId", handlers.SendChat)
	r.Post("/:runId/triggers/:nodeId/cancel", handlers.CancelTrigger)

	return app
}

// Serve listens on addr until ctx is cancelled, then shuts the server down.
func (a *API) Serve(ctx context.Context, addr string) error {
	app := a.App()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("API listening", "addr", addr)

		return app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		a.logger.Info("Shutting down API")

		return app.ShutdownWithContext(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
