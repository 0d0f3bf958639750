// Package web exposes workflows and their runs over a REST API.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/registry"
	"github.com/dukex/canvasflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflows *services.Workflow
	runs      *services.Runs
	validator *validator.Validate
	registry  *registry.Registry
}

func NewAPIHandlers(
	workflows *services.Workflow,
	runs *services.Runs,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflows: workflows,
		runs:      runs,
		validator: validator,
		registry:  registry,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Canvasflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Canvasflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	if category := c.Query("category"); category != "" {
		return c.JSON(newList(h.registry.ByCategory(models.CategoryType(category))))
	}

	return c.JSON(newList(h.registry.Components()))
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newList(workflows))
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflows.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	saved, err := h.workflows.Save(c.Context(), req.workflow(""))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	existing, err := h.workflows.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workflow := req.workflow(id)
	workflow.CreatedAt = existing.CreatedAt

	saved, err := h.workflows.Save(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	// the next run picks up the new graph
	h.runs.Forget(c.Context(), id)

	return c.JSON(saved)
}

func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*SaveWorkflowRequest, error) {
	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.workflows.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	h.runs.Forget(c.Context(), id)

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.workflows.Validate(req.workflow("draft")); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"valid": true})
}

// StartRun starts a run in the background. With ?wait=true the response is sent
// once the run finishes and carries its outcome.
func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req services.StartRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	runID, err := h.runs.Start(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	if c.Query("wait") != "true" {
		return c.Status(fiber.StatusAccepted).JSON(StartRunResponse{RunID: runID})
	}

	outcome, err := h.runs.Wait(c.Context(), runID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(outcome)
}

func (h *APIHandlers) GetWorkflowRuns(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}

		limit = parsed
	}

	records, err := h.runs.History(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newList(records))
}

func (h *APIHandlers) TestNode(c fiber.Ctx) error {
	result, err := h.runs.TestNode(c.Context(), c.Params("id"), c.Params("nodeId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	view, err := h.runs.Snapshot(c.Context(), c.Params("runId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(view)
}

func (h *APIHandlers) StopRun(c fiber.Ctx) error {
	var req StopRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.runs.Stop(c.Context(), c.Params("runId"), req.Silent); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) SubmitForm(c fiber.Ctx) error {
	var req FormSubmissionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.runs.SubmitForm(c.Context(), c.Params("runId"), c.Params("nodeId"), req.Values); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) SendChat(c fiber.Ctx) error {
	var req ChatMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.runs.SendChat(c.Context(), c.Params("runId"), c.Params("nodeId"), req.Message, req.SessionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) CancelTrigger(c fiber.Ctx) error {
	if err := h.runs.CancelTrigger(c.Context(), c.Params("runId"), c.Params("nodeId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}
