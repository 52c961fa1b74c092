package controller

import (
	"judgehub/internal/auth"
	"judgehub/internal/common/validate"
	"judgehub/internal/instance/service"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// InstanceController exposes instance endpoints.
type InstanceController struct {
	instanceService *service.InstanceService
	validator       *validate.Validator
}

// NewInstanceController creates a new InstanceController.
func NewInstanceController(instanceService *service.InstanceService, validator *validate.Validator) *InstanceController {
	return &InstanceController{instanceService: instanceService, validator: validator}
}

// Create handles POST /instances.
func (h *InstanceController) Create(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	var req service.CreateInput
	if err := h.validator.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	inst, err := h.instanceService.Create(c.Request.Context(), p, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, inst)
}

// Get handles GET /instances/:id.
func (h *InstanceController) Get(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	inst, err := h.instanceService.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, inst)
}

// Destroy handles POST /instances/:id/destroy.
func (h *InstanceController) Destroy(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	if err := h.instanceService.Destroy(c.Request.Context(), p, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Poll handles POST /runner/instance/poll.
func (h *InstanceController) Poll(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	t, err := h.instanceService.Poll(c.Request.Context(), runner)
	if err != nil {
		response.Error(c, err)
		return
	}
	if t == nil {
		response.NoTask(c)
		return
	}
	response.Success(c, t)
}

// Patch handles PATCH /runner/instance/:instanceId/task/:taskId.
func (h *InstanceController) Patch(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	var req service.PatchInput
	if err := h.validator.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.instanceService.Patch(c.Request.Context(), runner, c.Param("instanceId"), c.Param("taskId"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Complete handles POST /runner/instance/:instanceId/task/:taskId/complete.
func (h *InstanceController) Complete(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	var req service.CompleteInput
	if err := h.validator.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.instanceService.Complete(c.Request.Context(), runner, c.Param("instanceId"), c.Param("taskId"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
