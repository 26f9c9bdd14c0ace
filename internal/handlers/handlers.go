package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/raulshma/etlez-sub001/internal/models"
	"github.com/raulshma/etlez-sub001/internal/services"
)

// PipelineHandler serves the pipeline management API.
type PipelineHandler struct {
	service   *services.PipelineService
	scheduler *services.Scheduler
	logger    *zap.Logger
}

// NewPipelineHandler creates the handler set.
func NewPipelineHandler(service *services.PipelineService, scheduler *services.Scheduler, logger *zap.Logger) *PipelineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineHandler{service: service, scheduler: scheduler, logger: logger}
}

// Register mounts the API routes on the router.
func (h *PipelineHandler) Register(router fiber.Router) {
	pipelines := router.Group("/pipelines")
	pipelines.Post("/", h.CreatePipeline)
	pipelines.Get("/", h.ListPipelines)
	pipelines.Get("/:id", h.GetPipeline)
	pipelines.Delete("/:id", h.DeletePipeline)
	pipelines.Post("/:id/execute", h.ExecutePipeline)
	pipelines.Get("/:id/executions", h.ListExecutions)

	executions := router.Group("/executions")
	executions.Get("/:id", h.GetExecution)
	executions.Post("/:id/cancel", h.CancelExecution)
}

// CreatePipeline registers a YAML pipeline definition posted as the request
// body and schedules it when it carries a cron expression.
func (h *PipelineHandler) CreatePipeline(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "request body is empty")
	}

	def, err := h.service.Register(c.Context(), body)
	if err != nil {
		return h.serviceError(c, err)
	}

	if def.Schedule != "" && h.scheduler != nil {
		if err := h.scheduler.Add(def.ID, def.Schedule); err != nil {
			h.logger.Warn("pipeline registered but not scheduled",
				zap.String("pipeline_id", def.ID),
				zap.Error(err))
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":       def.ID,
		"name":     def.Name,
		"stages":   len(def.Stages),
		"schedule": def.Schedule,
	})
}

// ListPipelines returns stored pipelines.
func (h *PipelineHandler) ListPipelines(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	records, err := h.service.List(c.Context(), limit, offset)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"pipelines": records,
		"count":     len(records),
	})
}

// GetPipeline returns one stored pipeline.
func (h *PipelineHandler) GetPipeline(c *fiber.Ctx) error {
	record, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(record)
}

// DeletePipeline removes a stored pipeline and its schedule.
func (h *PipelineHandler) DeletePipeline(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.Delete(c.Context(), id); err != nil {
		return h.serviceError(c, err)
	}
	if h.scheduler != nil {
		h.scheduler.Remove(id)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ExecutePipeline starts an asynchronous execution and returns its id.
func (h *PipelineHandler) ExecutePipeline(c *fiber.Ctx) error {
	executionID, err := h.service.Execute(c.Context(), c.Params("id"))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_id": executionID,
		"status":       string(models.ExecutionStatusRunning),
	})
}

// ListExecutions returns persisted executions of a pipeline.
func (h *PipelineHandler) ListExecutions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	records, err := h.service.ListExecutions(c.Context(), c.Params("id"), limit, offset)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"executions": records,
		"count":      len(records),
	})
}

// GetExecution returns the live or persisted state of one execution.
func (h *PipelineHandler) GetExecution(c *fiber.Ctx) error {
	record, err := h.service.ExecutionStatus(c.Context(), c.Params("id"))
	if err != nil {
		return h.serviceError(c, err)
	}
	if record == nil {
		return fiber.NewError(fiber.StatusNotFound, "execution not found")
	}
	return c.JSON(record)
}

// CancelExecution aborts an in-flight execution.
func (h *PipelineHandler) CancelExecution(c *fiber.Ctx) error {
	if !h.service.Cancel(c.Params("id")) {
		return fiber.NewError(fiber.StatusNotFound, "execution not running")
	}
	return c.JSON(fiber.Map{"status": "cancelling"})
}

// serviceError maps service failures onto HTTP statuses.
func (h *PipelineHandler) serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrPipelineNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrTooManyExecutions):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	case models.IsConfiguration(err):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
}
