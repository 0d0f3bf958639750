package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/canvasflow/pkg/cmd"
	"github.com/dukex/canvasflow/pkg/engine"
	"github.com/dukex/canvasflow/pkg/log"
	"github.com/dukex/canvasflow/pkg/notify"
	"github.com/dukex/canvasflow/pkg/otelhelper"
	"github.com/dukex/canvasflow/pkg/services"
	"github.com/dukex/canvasflow/pkg/web"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/attribute"
)

const defaultPort = 9091

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (file path, postgres://, redis://)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "service-id",
				Usage:   "Identifier of this instance in traces (random when empty)",
				Sources: cli.EnvVars("SERVICE_ID"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Canvasflow API")

			registry, err := cmd.NewRegistry(logger)
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(cmd.EventBusConfig{
				Provider:    command.String("event-bus"),
				Brokers:     command.String("kafka-brokers"),
				ServiceName: "canvasflow-api",
				OTELEnabled: command.Bool("otel-enabled"),
			}, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			promRegistry := prometheus.NewRegistry()
			promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			engineOpts := []engine.Option{
				engine.WithMetrics(engine.NewMetrics(promRegistry)),
				engine.WithNotifier(notify.Multi{
					notify.NewLogNotifier(logger),
					notify.NewBusNotifier(eventBus, logger),
				}),
			}

			if command.Bool("otel-enabled") {
				serviceID := command.String("service-id")
				if serviceID == "" {
					serviceID = uuid.NewString()
				}

				tracer, shutdown, err := otelhelper.NewTracer(ctx, "canvasflow",
					attribute.String(otelhelper.ServiceIDKey, serviceID))
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.Error("Failed to shutdown tracer provider", "error", err)
					}
				}()

				engineOpts = append(engineOpts, engine.WithTracer(tracer))
			}

			workflows := services.NewWorkflow(persistence, registry, log.WithModule("workflows"))
			runs := services.NewRuns(persistence, eventBus, log.WithModule("runs"), engineOpts...)

			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()

				if err := runs.Close(closeCtx); err != nil {
					logger.Error("Failed to stop runs", "error", err)
				}
			}()

			api := web.NewAPI(logger, workflows, runs, registry, promRegistry)

			return api.Serve(ctx, ":"+strconv.Itoa(command.Int("port")))
		},
	}
}
