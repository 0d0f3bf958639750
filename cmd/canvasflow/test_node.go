package main

import (
	"context"
	"errors"
	"os"

	"github.com/dukex/canvasflow/pkg/channels/gochannel"
	"github.com/dukex/canvasflow/pkg/engine"
	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/log"
	"github.com/dukex/canvasflow/pkg/notify"
	cli "github.com/urfave/cli/v3"
)

var ErrMissingNodeID = errors.New("a node id is required")

func NewTestNodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "test-node",
		Aliases:   []string{"t"},
		Usage:     "Execute a single node of a workflow file",
		ArgsUsage: "<workflow.json|yaml> <node-id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "var",
				Aliases: []string{"v"},
				Usage:   "Run variable as key=value",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Result format (json, yaml)",
				Value: "json",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("test-node")

			path, nodeID := command.Args().Get(0), command.Args().Get(1)
			if path == "" {
				return ErrMissingWorkflowFile
			}

			if nodeID == "" {
				return ErrMissingNodeID
			}

			_, g, err := loadWorkflow(path, logger)
			if err != nil {
				return err
			}

			vars, err := parseAssignments(command.StringSlice("var"))
			if err != nil {
				return err
			}

			pubSub := gochannel.CreateChannel(logger)
			bus := eventbus.NewWatermillEventBus(pubSub, pubSub, logger)
			defer func() { _ = bus.Close() }()

			eng := engine.New(g,
				engine.WithEventBus(bus),
				engine.WithLogger(logger),
				engine.WithNotifier(notify.NewLogNotifier(logger)),
				engine.WithVariables(vars),
			)
			defer eng.Cleanup(context.WithoutCancel(ctx))

			result, err := eng.ExecuteSingleNode(ctx, nodeID)
			if err != nil {
				return err
			}

			return writeOutput(os.Stdout, command.String("output"), result)
		},
	}
}
