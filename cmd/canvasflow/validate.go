package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/canvasflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

var ErrInvalidWorkflows = errors.New("invalid workflows found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate workflow files against the node catalog",
		ArgsUsage: "<workflow.json|yaml>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("validate")

			paths := command.Args().Slice()
			if len(paths) == 0 {
				return ErrMissingWorkflowFile
			}

			invalid := 0

			for _, path := range paths {
				workflow, _, err := loadWorkflow(path, logger)
				if err != nil {
					invalid++

					_, _ = fmt.Fprintf(os.Stdout, "✗ %s: %v\n", path, err)

					continue
				}

				_, _ = fmt.Fprintf(os.Stdout, "✓ %s: %s (%d nodes, %d connections)\n",
					path, workflow.Name, len(workflow.Nodes), len(workflow.Connections))
			}

			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, invalid, len(paths))
			}

			return nil
		},
	}
}
