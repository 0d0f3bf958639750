package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/canvasflow/pkg/cmd"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/services"
)

// loadWorkflow reads a workflow document and checks it against the node catalog.
func loadWorkflow(path string, logger *slog.Logger) (*models.Workflow, graph.Graph, error) {
	format, err := graph.FormatOf(path)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading workflow: %w", err)
	}

	workflow, err := graph.Decode(data, format)
	if err != nil {
		return nil, nil, err
	}

	reg, err := cmd.NewRegistry(logger)
	if err != nil {
		return nil, nil, err
	}

	if err := services.NewWorkflow(nil, reg, logger).Validate(workflow); err != nil {
		return nil, nil, err
	}

	g, err := graph.New(workflow)
	if err != nil {
		return nil, nil, err
	}

	return workflow, g, nil
}
