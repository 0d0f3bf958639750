// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/canvasflow/pkg/registry"
)

// NewRegistry creates a registry holding every built-in node type.
func NewRegistry(log *slog.Logger) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	if err := reg.RegisterDefaultNodes(); err != nil {
		return nil, fmt.Errorf("failed to register node types: %w", err)
	}

	return reg, nil
}
