package registry_test

import (
	"fmt"
	"log/slog"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/registry"
)

func ExampleRegistry_ByCategory() {
	reg := registry.NewRegistry(slog.Default())
	if err := reg.RegisterDefaultNodes(); err != nil {
		panic(err)
	}

	for _, c := range reg.ByCategory(models.CategoryTypeTrigger) {
		fmt.Println(c.Type, "-", c.Name)
	}

	// Output:
	// chat-trigger - Chat Trigger
	// form-trigger - Form Trigger
	// manual-trigger - Manual Trigger
	// schedule-trigger - Schedule Trigger
}
