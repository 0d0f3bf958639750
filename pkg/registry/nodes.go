package registry

import (
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes/action"
	"github.com/dukex/canvasflow/pkg/nodes/condition"
	"github.com/dukex/canvasflow/pkg/nodes/trigger"
)

// RegisterDefaultNodes registers every built-in node type.
func (r *Registry) RegisterDefaultNodes() error {
	catalogs := [][]models.RegisteredComponent{
		trigger.Components(),
		condition.Components(),
		action.Components(),
	}

	for _, components := range catalogs {
		for _, c := range components {
			if err := r.Register(c); err != nil {
				return err
			}
		}
	}

	return nil
}
