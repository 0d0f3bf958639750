package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/canvasflow/pkg/channels/gochannel"
	"github.com/dukex/canvasflow/pkg/engine"
	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/log"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/notify"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingWorkflowFile = errors.New("a workflow file is required")
	ErrRunFailed           = errors.New("run failed")
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Execute a workflow file once",
		ArgsUsage: "<workflow.json|yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "trigger",
				Usage: "Start from this trigger node only",
			},
			&cli.StringSliceFlag{
				Name:    "var",
				Aliases: []string{"v"},
				Usage:   "Run variable as key=value",
			},
			&cli.StringSliceFlag{
				Name:  "form",
				Usage: "Form field value as key=value, submitted to waiting form triggers",
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "Message sent to waiting chat triggers",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop the run after this long (0 waits forever)",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Outcome format (json, yaml)",
				Value: "json",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("run")

			path := command.Args().First()
			if path == "" {
				return ErrMissingWorkflowFile
			}

			workflow, g, err := loadWorkflow(path, logger)
			if err != nil {
				return err
			}

			vars, err := parseAssignments(command.StringSlice("var"))
			if err != nil {
				return err
			}

			var form map[string]any
			if fields := command.StringSlice("form"); len(fields) > 0 {
				if form, err = parseAssignments(fields); err != nil {
					return err
				}
			}

			if timeout := command.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			pubSub := gochannel.CreateChannel(logger)
			bus := eventbus.NewWatermillEventBus(pubSub, pubSub, logger)
			defer func() {
				if err := bus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			runID := uuid.NewString()

			r := &responder{
				bus:        bus,
				workflowID: workflow.ID,
				runID:      runID,
				form:       form,
				message:    command.String("message"),
				logger:     logger,
			}
			if err := r.listen(ctx); err != nil {
				return err
			}

			eng := engine.New(g,
				engine.WithEventBus(bus),
				engine.WithLogger(logger),
				engine.WithNotifier(notify.NewLogNotifier(logger)),
				engine.WithVariables(vars),
			)
			defer eng.Cleanup(context.WithoutCancel(ctx))

			runOpts := []engine.RunOption{engine.WithRunID(runID)}
			if trigger := command.String("trigger"); trigger != "" {
				runOpts = append(runOpts, engine.WithTrigger(trigger))
			}

			logger.InfoContext(ctx, "Running workflow", "workflow_id", workflow.ID, "run_id", runID)

			outcome, err := eng.ExecuteWorkflow(ctx, runOpts...)
			if err != nil {
				return err
			}

			if err := writeOutput(os.Stdout, command.String("output"), outcome); err != nil {
				return err
			}

			if outcome.Status == models.RunStatusFailed {
				return fmt.Errorf("%w: %s", ErrRunFailed, outcome.Error)
			}

			return nil
		},
	}
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml", "yml":
		// round trip through JSON so the document uses the JSON field names
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}

		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}

		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()

		return enc.Encode(doc)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	}
}
